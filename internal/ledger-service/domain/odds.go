package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinOdds é a menor odd aceita (decimal)
var MinOdds = decimal.RequireFromString("1.01")

// ParseOdds converte e valida uma odd decimal ("2.50")
func ParseOdds(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, Errorf(ErrInvalidOdds, "%q", s)
	}
	if err := ValidateOdds(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateOdds: >= 1.01 e no máximo duas casas (NUMERIC(10,2))
func ValidateOdds(d decimal.Decimal) error {
	if d.LessThan(MinOdds) || !d.Equal(d.Round(2)) || d.GreaterThanOrEqual(decimal.NewFromInt(100_000_000)) {
		return Errorf(ErrInvalidOdds, "got %s", d.String())
	}
	return nil
}

var maxCoins = decimal.NewFromInt(math.MaxInt64)

// Payout = floor(stake × odds); aritmética decimal, sem float.
// Resultado acima de int64 vira ErrInvalidStake.
func Payout(stake int64, odds decimal.Decimal) (int64, error) {
	p := decimal.NewFromInt(stake).Mul(odds).Floor()
	if p.GreaterThan(maxCoins) {
		return 0, Errorf(ErrInvalidStake, "payout of %d at %s exceeds the coin range", stake, FormatOdds(odds))
	}
	return p.IntPart(), nil
}

// FormatOdds sempre com duas casas, como armazenado
func FormatOdds(d decimal.Decimal) string { return d.StringFixed(2) }
