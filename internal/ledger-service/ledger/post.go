package ledger

import (
	"context"
	"math"
	"time"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
)

// Posting descreve um lançamento; o usuário já deve estar com lock exclusivo em tx
type Posting struct {
	User    domain.User
	Kind    domain.LedgerKind
	Amount  int64
	RefType string
	RefID   string
	Reason  string
	At      time.Time
}

// Post grava o lançamento e atualiza o saldo em cache na mesma transação.
// Saldo resultante negativo vira ErrInsufficientBalance e nada é gravado.
func Post(ctx context.Context, tx repo.Tx, p Posting) (domain.User, domain.LedgerEntry, error) {
	if p.Amount > 0 && p.User.Balance > math.MaxInt64-p.Amount {
		return p.User, domain.LedgerEntry{}, domain.Errorf(domain.ErrInvalidAmount,
			"credit of %d overflows balance %d", p.Amount, p.User.Balance)
	}
	next := p.User.Balance + p.Amount
	if next < 0 {
		return p.User, domain.LedgerEntry{}, domain.Errorf(domain.ErrInsufficientBalance,
			"balance %d, required %d", p.User.Balance, -p.Amount)
	}
	entry, err := tx.AppendLedger(ctx, domain.LedgerEntry{
		UserID:       p.User.ID,
		Kind:         p.Kind,
		Amount:       p.Amount,
		BalanceAfter: next,
		RefType:      p.RefType,
		RefID:        p.RefID,
		Reason:       p.Reason,
		CreatedAt:    p.At,
	})
	if err != nil {
		return p.User, domain.LedgerEntry{}, err
	}
	if err := tx.SetUserBalance(ctx, p.User.ID, next); err != nil {
		return p.User, domain.LedgerEntry{}, err
	}
	u := p.User
	u.Balance = next
	return u, entry, nil
}
