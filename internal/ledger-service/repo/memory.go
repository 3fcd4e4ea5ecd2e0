package repo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
)

// Memory é um Store em memória com lock por linha.
// Escritas ficam no overlay da transação e só aparecem para os outros no commit.
type Memory struct {
	mu sync.RWMutex
	d  memData

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	ledgerSeq atomic.Int64
	feedSeq   atomic.Int64
}

type memData struct {
	users       map[string]domain.User
	tournaments map[string]domain.Tournament
	events      map[string]domain.Event
	markets     map[string]domain.Market // sem Selections; ver selections
	selections  map[string]domain.Selection
	bets        map[string]domain.Bet
	ledger      []domain.LedgerEntry
	feed        []domain.FeedEvent
	history     []domain.OddsSnapshot
	notes       []domain.Notification // ordem de inserção
}

func NewMemory() *Memory {
	return &Memory{
		d: memData{
			users:       map[string]domain.User{},
			tournaments: map[string]domain.Tournament{},
			events:      map[string]domain.Event{},
			markets:     map[string]domain.Market{},
			selections:  map[string]domain.Selection{},
			bets:        map[string]domain.Bet{},
		},
		locks: map[string]*sync.RWMutex{},
	}
}

var errTxDone = errors.New("transaction already finished")

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) rowLock(key string) *sync.RWMutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &memTx{
		m:           m,
		held:        map[string]bool{},
		users:       map[string]domain.User{},
		tournaments: map[string]domain.Tournament{},
		events:      map[string]domain.Event{},
		markets:     map[string]domain.Market{},
		selections:  map[string]domain.Selection{},
		bets:        map[string]domain.Bet{},
		read:        map[string]bool{},
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

type memTx struct {
	m     *Memory
	done  bool
	held  map[string]bool // chave -> exclusivo
	order []string

	users       map[string]domain.User
	tournaments map[string]domain.Tournament
	events      map[string]domain.Event
	markets     map[string]domain.Market
	selections  map[string]domain.Selection
	bets        map[string]domain.Bet
	ledger      []domain.LedgerEntry
	feed        []domain.FeedEvent
	history     []domain.OddsSnapshot
	notes       []domain.Notification
	read        map[string]bool
}

func (t *memTx) lock(key string, exclusive bool) error {
	if t.done {
		return errTxDone
	}
	if ex, ok := t.held[key]; ok {
		if exclusive && !ex {
			return fmt.Errorf("lock upgrade not allowed on %s", key)
		}
		return nil
	}
	l := t.m.rowLock(key)
	if exclusive {
		l.Lock()
	} else {
		l.RLock()
	}
	t.held[key] = exclusive
	t.order = append(t.order, key)
	return nil
}

func (t *memTx) release() {
	t.done = true
	for i := len(t.order) - 1; i >= 0; i-- {
		k := t.order[i]
		l := t.m.rowLock(k)
		if t.held[k] {
			l.Unlock()
		} else {
			l.RUnlock()
		}
	}
	t.order = nil
	t.held = map[string]bool{}
}

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range t.users {
		if _, exists := m.d.users[id]; exists {
			continue
		}
		for _, o := range m.d.users {
			if o.Username == u.Username {
				return domain.Errorf(domain.ErrDuplicate, "username %q", u.Username)
			}
		}
	}

	for id, v := range t.users {
		m.d.users[id] = v
	}
	for id, v := range t.tournaments {
		m.d.tournaments[id] = v
	}
	for id, v := range t.events {
		m.d.events[id] = v
	}
	for id, v := range t.markets {
		v.Selections = nil
		m.d.markets[id] = v
	}
	for id, v := range t.selections {
		m.d.selections[id] = v
	}
	for id, v := range t.bets {
		m.d.bets[id] = v
	}
	m.d.ledger = append(m.d.ledger, t.ledger...)
	m.d.feed = append(m.d.feed, t.feed...)
	m.d.history = append(m.d.history, t.history...)
	m.d.notes = append(m.d.notes, t.notes...)
	if len(t.read) > 0 {
		for i := range m.d.notes {
			if t.read[m.d.notes[i].ID] {
				m.d.notes[i].Read = true
			}
		}
	}
	return nil
}

// leituras com overlay da transação

func (t *memTx) user(id string) (domain.User, bool) {
	if u, ok := t.users[id]; ok {
		return u, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	u, ok := t.m.d.users[id]
	return u, ok
}

func (t *memTx) tournament(id string) (domain.Tournament, bool) {
	if v, ok := t.tournaments[id]; ok {
		return v, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	v, ok := t.m.d.tournaments[id]
	return v, ok
}

func (t *memTx) event(id string) (domain.Event, bool) {
	if v, ok := t.events[id]; ok {
		return v, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	v, ok := t.m.d.events[id]
	return v, ok
}

func (t *memTx) bet(id string) (domain.Bet, bool) {
	if v, ok := t.bets[id]; ok {
		return v, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	v, ok := t.m.d.bets[id]
	return v, ok
}

func (t *memTx) selection(id string) (domain.Selection, bool) {
	if v, ok := t.selections[id]; ok {
		return v, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	v, ok := t.m.d.selections[id]
	return v, ok
}

func (t *memTx) market(id string) (domain.Market, bool) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	mk, ok := t.markets[id]
	if !ok {
		if mk, ok = t.m.d.markets[id]; !ok {
			return domain.Market{}, false
		}
	}
	sels := map[string]domain.Selection{}
	for sid, s := range t.m.d.selections {
		if s.MarketID == id {
			sels[sid] = s
		}
	}
	for sid, s := range t.selections {
		if s.MarketID == id {
			sels[sid] = s
		}
	}
	mk.Selections = sortSelections(sels)
	return mk, true
}

// allBets: commitados + overlay
func (t *memTx) allBets(keep func(domain.Bet) bool) []domain.Bet {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	var out []domain.Bet
	for id, b := range t.m.d.bets {
		if o, ok := t.bets[id]; ok {
			b = o
		}
		if keep(b) {
			out = append(out, b)
		}
	}
	for id, b := range t.bets {
		if _, ok := t.m.d.bets[id]; !ok && keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func (t *memTx) LockUser(ctx context.Context, id string) (domain.User, error) {
	if err := t.lock("user:"+id, true); err != nil {
		return domain.User{}, err
	}
	u, ok := t.user(id)
	if !ok {
		return domain.User{}, domain.Errorf(domain.ErrUserNotFound, "%s", id)
	}
	return u, nil
}

func (t *memTx) LockMarket(ctx context.Context, id string) (domain.Market, error) {
	return t.lockMarket(id, true)
}

func (t *memTx) ShareMarket(ctx context.Context, id string) (domain.Market, error) {
	return t.lockMarket(id, false)
}

func (t *memTx) lockMarket(id string, exclusive bool) (domain.Market, error) {
	if err := t.lock("market:"+id, exclusive); err != nil {
		return domain.Market{}, err
	}
	mk, ok := t.market(id)
	if !ok {
		return domain.Market{}, domain.Errorf(domain.ErrMarketNotFound, "%s", id)
	}
	return mk, nil
}

func (t *memTx) LockBet(ctx context.Context, id string) (domain.Bet, error) {
	if err := t.lock("bet:"+id, true); err != nil {
		return domain.Bet{}, err
	}
	b, ok := t.bet(id)
	if !ok {
		return domain.Bet{}, domain.Errorf(domain.ErrBetNotFound, "%s", id)
	}
	return b, nil
}

func (t *memTx) LockTournament(ctx context.Context, id string) (domain.Tournament, error) {
	if err := t.lock("tournament:"+id, true); err != nil {
		return domain.Tournament{}, err
	}
	v, ok := t.tournament(id)
	if !ok {
		return domain.Tournament{}, domain.Errorf(domain.ErrTournamentNotFound, "%s", id)
	}
	return v, nil
}

func (t *memTx) LockEvent(ctx context.Context, id string) (domain.Event, error) {
	if err := t.lock("event:"+id, true); err != nil {
		return domain.Event{}, err
	}
	v, ok := t.event(id)
	if !ok {
		return domain.Event{}, domain.Errorf(domain.ErrEventNotFound, "%s", id)
	}
	return v, nil
}

func (t *memTx) GetSelection(ctx context.Context, id string) (domain.Selection, error) {
	if t.done {
		return domain.Selection{}, errTxDone
	}
	s, ok := t.selection(id)
	if !ok {
		return domain.Selection{}, domain.Errorf(domain.ErrSelectionNotFound, "%s", id)
	}
	return s, nil
}

func (t *memTx) CountBetsOnSelection(ctx context.Context, selectionID string) (int, error) {
	return len(t.allBets(func(b domain.Bet) bool { return b.SelectionID == selectionID })), nil
}

func (t *memTx) MarketBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	out := t.allBets(func(b domain.Bet) bool { return b.MarketID == marketID })
	slices.SortFunc(out, func(a, b domain.Bet) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) SumLedger(ctx context.Context, userID string) (int64, error) {
	var sum int64
	t.m.mu.RLock()
	for _, e := range t.m.d.ledger {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	t.m.mu.RUnlock()
	for _, e := range t.ledger {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memTx) InsertUser(ctx context.Context, u domain.User) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.user(u.ID); ok {
		return domain.Errorf(domain.ErrDuplicate, "user %s", u.ID)
	}
	t.m.mu.RLock()
	for _, o := range t.m.d.users {
		if o.Username == u.Username {
			t.m.mu.RUnlock()
			return domain.Errorf(domain.ErrDuplicate, "username %q", u.Username)
		}
	}
	t.m.mu.RUnlock()
	for _, o := range t.users {
		if o.Username == u.Username {
			return domain.Errorf(domain.ErrDuplicate, "username %q", u.Username)
		}
	}
	t.users[u.ID] = u
	return nil
}

func (t *memTx) SetUserBalance(ctx context.Context, id string, balance int64) error {
	if balance < 0 {
		return domain.Errorf(domain.ErrInsufficientBalance, "balance would become %d", balance)
	}
	u, ok := t.user(id)
	if !ok {
		return domain.Errorf(domain.ErrUserNotFound, "%s", id)
	}
	u.Balance = balance
	t.users[id] = u
	return nil
}

func (t *memTx) SetUserActive(ctx context.Context, id string, active bool) error {
	u, ok := t.user(id)
	if !ok {
		return domain.Errorf(domain.ErrUserNotFound, "%s", id)
	}
	u.IsActive = active
	t.users[id] = u
	return nil
}

func (t *memTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if t.done {
		return domain.LedgerEntry{}, errTxDone
	}
	if e.BalanceAfter < 0 {
		return domain.LedgerEntry{}, domain.Errorf(domain.ErrInsufficientBalance, "balance_after %d", e.BalanceAfter)
	}
	if e.RefType == domain.RefBet {
		dup := func(o domain.LedgerEntry) bool {
			return o.RefType == domain.RefBet && o.RefID == e.RefID && o.Kind == e.Kind
		}
		t.m.mu.RLock()
		exists := slices.ContainsFunc(t.m.d.ledger, dup)
		t.m.mu.RUnlock()
		if exists || slices.ContainsFunc(t.ledger, dup) {
			return domain.LedgerEntry{}, domain.Errorf(domain.ErrDuplicate, "%s for bet %s", e.Kind, e.RefID)
		}
	}
	e.ID = t.m.ledgerSeq.Add(1)
	t.ledger = append(t.ledger, e)
	return e, nil
}

func (t *memTx) InsertBet(ctx context.Context, b domain.Bet) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.bet(b.ID); ok {
		return domain.Errorf(domain.ErrDuplicate, "bet %s", b.ID)
	}
	t.bets[b.ID] = b
	return nil
}

func (t *memTx) SetBetStatus(ctx context.Context, id string, status domain.BetStatus, settledAt time.Time) error {
	b, ok := t.bet(id)
	if !ok {
		return domain.Errorf(domain.ErrBetNotFound, "%s", id)
	}
	b.Status = status
	if status.Terminal() {
		at := settledAt
		b.SettledAt = &at
	}
	t.bets[id] = b
	return nil
}

func (t *memTx) InsertTournament(ctx context.Context, v domain.Tournament) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.tournament(v.ID); ok {
		return domain.Errorf(domain.ErrDuplicate, "tournament %s", v.ID)
	}
	t.tournaments[v.ID] = v
	return nil
}

func (t *memTx) SetTournamentStatus(ctx context.Context, id string, status domain.TournamentStatus) error {
	v, ok := t.tournament(id)
	if !ok {
		return domain.Errorf(domain.ErrTournamentNotFound, "%s", id)
	}
	v.Status = status
	t.tournaments[id] = v
	return nil
}

func (t *memTx) InsertEvent(ctx context.Context, v domain.Event) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.event(v.ID); ok {
		return domain.Errorf(domain.ErrDuplicate, "event %s", v.ID)
	}
	t.events[v.ID] = v
	return nil
}

func (t *memTx) SetEventStatus(ctx context.Context, id string, status domain.EventStatus) error {
	v, ok := t.event(id)
	if !ok {
		return domain.Errorf(domain.ErrEventNotFound, "%s", id)
	}
	v.Status = status
	t.events[id] = v
	return nil
}

func (t *memTx) InsertMarket(ctx context.Context, mk domain.Market) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.market(mk.ID); ok {
		return domain.Errorf(domain.ErrDuplicate, "market %s", mk.ID)
	}
	for _, s := range mk.Selections {
		s.MarketID = mk.ID
		t.selections[s.ID] = s
		t.history = append(t.history, domain.OddsSnapshot{
			SelectionID: s.ID, Version: s.OddsVersion, Odds: s.Odds, EffectiveAt: mk.CreatedAt,
		})
	}
	mk.Selections = nil
	t.markets[mk.ID] = mk
	return nil
}

func (t *memTx) setMarket(id string, fn func(*domain.Market)) error {
	mk, ok := t.market(id)
	if !ok {
		return domain.Errorf(domain.ErrMarketNotFound, "%s", id)
	}
	fn(&mk)
	mk.Selections = nil
	t.markets[id] = mk
	return nil
}

func (t *memTx) SetMarketStatus(ctx context.Context, id string, status domain.MarketStatus) error {
	return t.setMarket(id, func(m *domain.Market) { m.Status = status })
}

func (t *memTx) SetMarketResolution(ctx context.Context, id string, r domain.Resolution) error {
	return t.setMarket(id, func(m *domain.Market) { m.Resolution = r })
}

func (t *memTx) SetSelectionWinners(ctx context.Context, marketID, winnerID string) error {
	mk, ok := t.market(marketID)
	if !ok {
		return domain.Errorf(domain.ErrMarketNotFound, "%s", marketID)
	}
	for _, s := range mk.Selections {
		w := s.ID == winnerID
		s.IsWinner = &w
		t.selections[s.ID] = s
	}
	return nil
}

func (t *memTx) UpdateSelectionOdds(ctx context.Context, selectionID string, odds decimal.Decimal, version int, at time.Time) error {
	s, ok := t.selection(selectionID)
	if !ok {
		return domain.Errorf(domain.ErrSelectionNotFound, "%s", selectionID)
	}
	s.Odds = odds
	s.OddsVersion = version
	t.selections[selectionID] = s
	t.history = append(t.history, domain.OddsSnapshot{SelectionID: selectionID, Version: version, Odds: odds, EffectiveAt: at})
	return nil
}

func (t *memTx) AppendFeed(ctx context.Context, e domain.FeedEvent) (domain.FeedEvent, error) {
	if t.done {
		return domain.FeedEvent{}, errTxDone
	}
	e.ID = t.m.feedSeq.Add(1)
	t.feed = append(t.feed, e)
	return e, nil
}

func (t *memTx) InsertNotification(ctx context.Context, n domain.Notification) error {
	if t.done {
		return errTxDone
	}
	t.notes = append(t.notes, n)
	return nil
}

func (t *memTx) MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, error) {
	if err := t.lock("notification:"+id, true); err != nil {
		return domain.Notification{}, err
	}
	n, ok := t.note(id)
	if !ok || n.UserID != userID {
		return domain.Notification{}, domain.Errorf(domain.ErrNotFound, "notification %s", id)
	}
	n.Read = true
	t.read[id] = true
	return n, nil
}

func (t *memTx) note(id string) (domain.Notification, bool) {
	for _, n := range t.notes {
		if n.ID == id {
			n.Read = n.Read || t.read[id]
			return n, true
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	for _, n := range t.m.d.notes {
		if n.ID == id {
			n.Read = n.Read || t.read[id]
			return n, true
		}
	}
	return domain.Notification{}, false
}

// Reader

func (m *Memory) GetUser(ctx context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.d.users[id]
	if !ok {
		return domain.User{}, domain.Errorf(domain.ErrUserNotFound, "%s", id)
	}
	return u, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]domain.User, error) {
	m.mu.RLock()
	out := make([]domain.User, 0, len(m.d.users))
	for _, u := range m.d.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.User) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) GetTournament(ctx context.Context, id string) (domain.Tournament, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.d.tournaments[id]
	if !ok {
		return domain.Tournament{}, domain.Errorf(domain.ErrTournamentNotFound, "%s", id)
	}
	return v, nil
}

func (m *Memory) ListTournaments(ctx context.Context) ([]domain.Tournament, error) {
	m.mu.RLock()
	var out []domain.Tournament
	for _, v := range m.d.tournaments {
		out = append(out, v)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Tournament) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.d.events[id]
	if !ok {
		return domain.Event{}, domain.Errorf(domain.ErrEventNotFound, "%s", id)
	}
	return v, nil
}

func (m *Memory) ListEvents(ctx context.Context, tournamentID string) ([]domain.Event, error) {
	m.mu.RLock()
	var out []domain.Event
	for _, v := range m.d.events {
		if tournamentID == "" || v.TournamentID == tournamentID {
			out = append(out, v)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Event) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) marketLocked(id string) (domain.Market, bool) {
	mk, ok := m.d.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	sels := map[string]domain.Selection{}
	for sid, s := range m.d.selections {
		if s.MarketID == id {
			sels[sid] = s
		}
	}
	mk.Selections = sortSelections(sels)
	return mk, true
}

func (m *Memory) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.marketLocked(id)
	if !ok {
		return domain.Market{}, domain.Errorf(domain.ErrMarketNotFound, "%s", id)
	}
	return mk, nil
}

func (m *Memory) ListMarkets(ctx context.Context, f MarketFilter) ([]domain.Market, error) {
	m.mu.RLock()
	var out []domain.Market
	for id, mk := range m.d.markets {
		if f.TournamentID != "" && mk.Scope.TournamentID != f.TournamentID {
			continue
		}
		if f.EventID != "" && mk.Scope.EventID != f.EventID {
			continue
		}
		if f.Status != "" && mk.Status != f.Status {
			continue
		}
		if f.PendingOnly && (mk.Status != domain.MarketLocked || mk.Resolution.Kind == domain.ResolutionNone) {
			continue
		}
		full, _ := m.marketLocked(id)
		out = append(out, full)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Market) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) GetSelection(ctx context.Context, id string) (domain.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.d.selections[id]
	if !ok {
		return domain.Selection{}, domain.Errorf(domain.ErrSelectionNotFound, "%s", id)
	}
	return s, nil
}

func (m *Memory) OddsHistory(ctx context.Context, selectionID string) ([]domain.OddsSnapshot, error) {
	m.mu.RLock()
	var out []domain.OddsSnapshot
	for _, h := range m.d.history {
		if h.SelectionID == selectionID {
			out = append(out, h)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.OddsSnapshot) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func (m *Memory) ListBets(ctx context.Context, f BetFilter) ([]domain.Bet, error) {
	m.mu.RLock()
	var inScope map[string]bool
	if f.TournamentID != "" {
		inScope = map[string]bool{}
		for id, mk := range m.d.markets {
			if mk.Scope.TournamentID == f.TournamentID {
				inScope[id] = true
			} else if ev, ok := m.d.events[mk.Scope.EventID]; ok && ev.TournamentID == f.TournamentID {
				inScope[id] = true
			}
		}
	}
	var out []domain.Bet
	for _, b := range m.d.bets {
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.MarketID != "" && b.MarketID != f.MarketID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if inScope != nil && !inScope[b.MarketID] {
			continue
		}
		out = append(out, b)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Bet) int {
		return cmp.Or(b.PlacedAt.Compare(a.PlacedAt), cmp.Compare(b.ID, a.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) BetCountsByUser(ctx context.Context) (map[string]BetCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]BetCounts{}
	for _, b := range m.d.bets {
		c := out[b.UserID]
		c.Total++
		if b.Status == domain.BetWon {
			c.Won++
		}
		out[b.UserID] = c
	}
	return out, nil
}

func (m *Memory) OpenBetIDs(ctx context.Context, marketID, afterID string, limit int) ([]string, error) {
	m.mu.RLock()
	var ids []string
	for id, b := range m.d.bets {
		if b.MarketID == marketID && b.Status == domain.BetOpen && id > afterID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) ListLedger(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range m.d.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.LedgerEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) ListFeed(ctx context.Context, q FeedQuery) ([]domain.FeedEvent, error) {
	m.mu.RLock()
	var out []domain.FeedEvent
	for _, e := range m.d.feed {
		if e.Public && (q.BeforeID == 0 || e.ID < q.BeforeID) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.FeedEvent) int { return cmp.Compare(b.ID, a.ID) })
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) ListNotifications(ctx context.Context, q NotificationQuery) ([]domain.Notification, error) {
	m.mu.RLock()
	var out []domain.Notification
	for i := len(m.d.notes) - 1; i >= 0; i-- {
		n := m.d.notes[i]
		if n.UserID == q.UserID && (!q.UnreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b domain.Notification) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) ListUnpublished(ctx context.Context, limit int) ([]domain.FeedEvent, error) {
	m.mu.RLock()
	var out []domain.FeedEvent
	for _, e := range m.d.feed {
		if e.PublishedAt == nil {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.FeedEvent) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.d.feed {
		if slices.Contains(ids, m.d.feed[i].ID) && m.d.feed[i].PublishedAt == nil {
			ts := at
			m.d.feed[i].PublishedAt = &ts
		}
	}
	return nil
}

func sortSelections(in map[string]domain.Selection) []domain.Selection {
	out := make([]domain.Selection, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.Selection) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out
}
