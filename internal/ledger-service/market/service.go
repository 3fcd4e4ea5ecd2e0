package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/pkg/contracts/events"
)

// Service administra o catálogo: torneios, eventos, mercados e odds.
// Toda mudança de status de mercado passa pelo lock exclusivo do mercado.
type Service struct {
	Store repo.Store
	Log   *zap.Logger
	Now   func() time.Time
	// Voider anula os mercados de um evento cancelado; obrigatório para cancelar eventos
	Voider EventVoider
}

// EventVoider é implementado por settlement.Engine
type EventVoider interface {
	VoidEvent(ctx context.Context, eventID string) (domain.VoidTotals, error)
}

func New(store repo.Store, log *zap.Logger) *Service {
	return &Service{Store: store, Log: log, Now: time.Now}
}

type TournamentInput struct {
	Name          string
	CompetitionID *int
}

func (s *Service) CreateTournament(ctx context.Context, in TournamentInput) (domain.Tournament, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 255 {
		return domain.Tournament{}, domain.Errorf(domain.ErrValidation, "name must have 1..255 characters")
	}
	t := domain.Tournament{
		ID: uuid.NewString(), Name: name, CompetitionID: in.CompetitionID,
		Status: domain.TournamentUpcoming, CreatedAt: s.Now(),
	}
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		return tx.InsertTournament(ctx, t)
	})
	if err != nil {
		return domain.Tournament{}, err
	}
	s.Log.Info("tournament created", zap.String("tournament_id", t.ID), zap.String("name", t.Name))
	return t, nil
}

func (s *Service) TransitionTournament(ctx context.Context, id string, to domain.TournamentStatus) (domain.Tournament, error) {
	var t domain.Tournament
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		if t, err = tx.LockTournament(ctx, id); err != nil {
			return err
		}
		if err := domain.CheckTournamentTransition(t.Status, to); err != nil {
			return err
		}
		t.Status = to
		return tx.SetTournamentStatus(ctx, id, to)
	})
	if err != nil {
		return domain.Tournament{}, err
	}
	s.Log.Info("tournament status changed", zap.String("tournament_id", id), zap.String("status", string(to)))
	return t, nil
}

type EventInput struct {
	TournamentID string
	Title        string
	StartsAt     *time.Time
}

func (s *Service) CreateEvent(ctx context.Context, in EventInput) (domain.Event, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > 255 {
		return domain.Event{}, domain.Errorf(domain.ErrValidation, "title must have 1..255 characters")
	}
	e := domain.Event{
		ID: uuid.NewString(), TournamentID: in.TournamentID, Title: title,
		Status: domain.EventUpcoming, StartsAt: in.StartsAt, CreatedAt: s.Now(),
	}
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		if e.TournamentID != "" {
			if _, err := tx.LockTournament(ctx, e.TournamentID); err != nil {
				return err
			}
		}
		return tx.InsertEvent(ctx, e)
	})
	if err != nil {
		return domain.Event{}, err
	}
	s.Log.Info("event created", zap.String("event_id", e.ID), zap.String("tournament_id", e.TournamentID))
	return e, nil
}

// TransitionEvent muda o status do evento. Ao cancelar, anula depois do commit
// todo mercado não terminal do evento; cancelar de novo reexecuta a anulação.
func (s *Service) TransitionEvent(ctx context.Context, id string, to domain.EventStatus) (domain.Event, domain.VoidTotals, error) {
	if to == domain.EventCancelled && s.Voider == nil {
		return domain.Event{}, domain.VoidTotals{}, errors.New("event cancellation requires a market voider")
	}
	var e domain.Event
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		if e, err = tx.LockEvent(ctx, id); err != nil {
			return err
		}
		if e.Status == domain.EventCancelled && to == domain.EventCancelled {
			return nil
		}
		if err := domain.CheckEventTransition(e.Status, to); err != nil {
			return err
		}
		e.Status = to
		return tx.SetEventStatus(ctx, id, to)
	})
	if err != nil {
		return domain.Event{}, domain.VoidTotals{}, err
	}
	s.Log.Info("event status changed", zap.String("event_id", id), zap.String("status", string(to)))
	if to != domain.EventCancelled {
		return e, domain.VoidTotals{}, nil
	}
	totals, err := s.Voider.VoidEvent(ctx, id)
	return e, totals, err
}

type SelectionInput struct {
	Label string
	Odds  decimal.Decimal
}

type CreateMarketInput struct {
	Scope      domain.Scope
	Question   string
	MarketType domain.MarketType
	Status     domain.MarketStatus // vazio = coming_soon
	Selections []SelectionInput
}

// validate checa a definição antes de qualquer acesso ao store
func (in CreateMarketInput) validate() error {
	if !in.Scope.Valid() {
		return domain.Errorf(domain.ErrInvalidMarket, "exactly one of tournament_id or event_id is required")
	}
	q := strings.TrimSpace(in.Question)
	if q == "" || len(q) > 500 {
		return domain.Errorf(domain.ErrInvalidMarket, "question must have 1..500 characters")
	}
	if !in.MarketType.Valid() {
		return domain.Errorf(domain.ErrInvalidMarket, "unknown market_type %q", in.MarketType)
	}
	if in.Status != "" && !domain.InitialMarketStatus(in.Status) {
		return domain.Errorf(domain.ErrInvalidMarket, "initial status must be coming_soon, open or locked")
	}
	if len(in.Selections) < 2 {
		return domain.Errorf(domain.ErrInvalidMarket, "at least two selections are required")
	}
	seen := map[string]bool{}
	for _, sel := range in.Selections {
		label := strings.TrimSpace(sel.Label)
		if label == "" {
			return domain.Errorf(domain.ErrInvalidMarket, "selection label is required")
		}
		if seen[strings.ToLower(label)] {
			return domain.Errorf(domain.ErrInvalidMarket, "duplicate selection label %q", label)
		}
		seen[strings.ToLower(label)] = true
		if err := domain.ValidateOdds(sel.Odds); err != nil {
			return fmt.Errorf("selection %q: %w", label, err)
		}
	}
	return nil
}

func (s *Service) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	if err := in.validate(); err != nil {
		return domain.Market{}, err
	}
	status := in.Status
	if status == "" {
		status = domain.MarketComingSoon
	}

	now := s.Now()
	m := domain.Market{
		ID: uuid.NewString(), Scope: in.Scope, Question: strings.TrimSpace(in.Question),
		MarketType: in.MarketType, Status: status, CreatedAt: now,
	}
	for i, sel := range in.Selections {
		m.Selections = append(m.Selections, domain.Selection{
			ID: uuid.NewString(), MarketID: m.ID, Position: i,
			Label: strings.TrimSpace(sel.Label), Odds: sel.Odds, OddsVersion: 1,
		})
	}

	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		if m.Scope.TournamentID != "" {
			if _, err := tx.LockTournament(ctx, m.Scope.TournamentID); err != nil {
				return err
			}
		} else {
			ev, err := tx.LockEvent(ctx, m.Scope.EventID)
			if err != nil {
				return err
			}
			if ev.Status == domain.EventCancelled || ev.Status == domain.EventCompleted {
				return domain.Errorf(domain.ErrInvalidTransition, "event is %s", ev.Status)
			}
		}
		if err := tx.InsertMarket(ctx, m); err != nil {
			return err
		}
		kind, desc := events.KindMarketCreated, "New market: "+m.Question
		if status == domain.MarketOpen {
			kind, desc = events.KindMarketOpened, "Market open: "+m.Question
		}
		_, err := tx.AppendFeed(ctx, domain.NewFeedEvent(kind, true, "", m.ID, desc,
			events.MarketStatusChanged{MarketID: m.ID, MarketType: string(m.MarketType), To: string(status)}, now))
		return err
	})
	if err != nil {
		return domain.Market{}, err
	}
	s.Log.Info("market created",
		zap.String("market_id", m.ID), zap.String("status", string(status)), zap.Int("selections", len(m.Selections)))
	return m, nil
}

// TransitionMarket aplica uma transição genérica (coming_soon/open/locked).
// settled e voided só via settlement.
func (s *Service) TransitionMarket(ctx context.Context, id string, to domain.MarketStatus) (domain.Market, error) {
	var m domain.Market
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		if m, err = tx.LockMarket(ctx, id); err != nil {
			return err
		}
		if m.Resolution.Kind != domain.ResolutionNone && !m.Status.Terminal() {
			return domain.Errorf(domain.ErrResolutionPending, "finish %s before changing status", m.Resolution.Kind)
		}
		if err := domain.CheckMarketTransition(m.Status, to); err != nil {
			return err
		}
		from := m.Status
		if err := tx.SetMarketStatus(ctx, id, to); err != nil {
			return err
		}
		m.Status = to

		kind, desc := events.KindMarketOpened, "Market open: "+m.Question
		if to == domain.MarketLocked {
			kind, desc = events.KindMarketLocked, "Market locked: "+m.Question
		}
		_, err = tx.AppendFeed(ctx, domain.NewFeedEvent(kind, true, "", m.ID, desc,
			events.MarketStatusChanged{MarketID: m.ID, MarketType: string(m.MarketType), From: string(from), To: string(to)}, s.Now()))
		return err
	})
	if err != nil {
		return domain.Market{}, err
	}
	s.Log.Info("market status changed", zap.String("market_id", id), zap.String("status", string(to)))
	return m, nil
}

// UpdateOdds troca as odds de uma seleção gravando um novo snapshot.
// Só com o mercado em coming_soon/open e sem apostas na seleção.
func (s *Service) UpdateOdds(ctx context.Context, selectionID string, odds decimal.Decimal) (domain.Selection, error) {
	if err := domain.ValidateOdds(odds); err != nil {
		return domain.Selection{}, err
	}
	var sel domain.Selection
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		peek, err := tx.GetSelection(ctx, selectionID)
		if errors.Is(err, domain.ErrSelectionNotFound) {
			return domain.Errorf(domain.ErrNotFound, "selection %s", selectionID)
		} else if err != nil {
			return err
		}
		m, err := tx.LockMarket(ctx, peek.MarketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketComingSoon && m.Status != domain.MarketOpen {
			return domain.Errorf(domain.ErrOddsLocked, "market is %s", m.Status)
		}
		n, err := tx.CountBetsOnSelection(ctx, selectionID)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.Errorf(domain.ErrOddsLocked, "selection already has %d bets", n)
		}
		cur, ok := m.Selection(selectionID)
		if !ok {
			return domain.Errorf(domain.ErrNotFound, "selection %s", selectionID)
		}
		sel = cur
		sel.Odds = odds
		sel.OddsVersion = cur.OddsVersion + 1
		return tx.UpdateSelectionOdds(ctx, selectionID, odds, sel.OddsVersion, s.Now())
	})
	if err != nil {
		return domain.Selection{}, err
	}
	s.Log.Info("odds updated",
		zap.String("selection_id", selectionID), zap.String("odds", domain.FormatOdds(odds)), zap.Int("version", sel.OddsVersion))
	return sel, nil
}
