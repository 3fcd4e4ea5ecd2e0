package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/dto"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
)

// createUser cadastra o usuário; sem initial_balance usa DEFAULT_BALANCE
func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	balance := a.DefaultBalance
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}
	u, err := a.Ledger.CreateUser(r.Context(), ledger.CreateUserInput{
		Username:       req.Username,
		IsAdmin:        req.IsAdmin,
		InitialBalance: balance,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromUser(u))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	us, err := a.Store.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(us, dto.FromUser))
}

func (a *API) adjustBalance(w http.ResponseWriter, r *http.Request) {
	var req dto.AdjustBalanceRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	u, e, err := a.Ledger.AdjustBalance(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason, currentUser(r.Context()).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.AdjustBalanceResponse{User: dto.FromUser(u), Entry: dto.FromLedgerEntry(e)})
}

func (a *API) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := a.Ledger.SetActive(r.Context(), chi.URLParam(r, "id"), active, currentUser(r.Context()).ID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.FromUser(u))
	}
}

func (a *API) createTournament(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTournamentRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Markets.CreateTournament(r.Context(), market.TournamentInput{Name: req.Name, CompetitionID: req.CompetitionID})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromTournament(t))
}

func (a *API) tournamentStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.StatusRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Markets.TransitionTournament(r.Context(), chi.URLParam(r, "id"), domain.TournamentStatus(req.Status))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromTournament(t))
}

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateEventRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.Markets.CreateEvent(r.Context(), market.EventInput{TournamentID: req.TournamentID, Title: req.Title, StartsAt: req.StartsAt})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromEvent(e))
}

func (a *API) eventStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.StatusRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	e, totals, err := a.Markets.TransitionEvent(r.Context(), chi.URLParam(r, "id"), domain.EventStatus(req.Status))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if e.Status == domain.EventCancelled && !totals.Complete {
		status = http.StatusAccepted
	}
	writeJSON(w, status, dto.FromEventStatus(e, totals))
}

func (a *API) createMarket(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMarketRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in := market.CreateMarketInput{
		Scope:      domain.Scope{TournamentID: req.TournamentID, EventID: req.EventID},
		Question:   req.Question,
		MarketType: domain.MarketType(req.MarketType),
		Status:     domain.MarketStatus(req.Status),
	}
	for _, s := range req.Selections {
		in.Selections = append(in.Selections, market.SelectionInput{Label: s.Label, Odds: s.Odds})
	}
	m, err := a.Markets.CreateMarket(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromMarket(m))
}

// marketStatus só aceita transições administrativas; settled/voided exigem settle/void
func (a *API) marketStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.StatusRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := a.Markets.TransitionMarket(r.Context(), chi.URLParam(r, "id"), domain.MarketStatus(req.Status))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromMarket(m))
}

func (a *API) marketBets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetMarket(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	bets, err := a.Store.ListBets(r.Context(), repo.BetFilter{MarketID: id})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(bets, dto.FromBet))
}

func (a *API) settleMarket(w http.ResponseWriter, r *http.Request) {
	var req dto.SettleRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.WinningSelectionID == "" {
		a.writeError(w, r, domain.Errorf(domain.ErrValidation, "winning_selection_id is required"))
		return
	}
	sum, err := a.Settlement.Settle(r.Context(), chi.URLParam(r, "id"), req.WinningSelectionID)
	a.writeSummary(w, r, sum, err)
}

func (a *API) voidMarket(w http.ResponseWriter, r *http.Request) {
	sum, err := a.Settlement.Void(r.Context(), chi.URLParam(r, "id"))
	a.writeSummary(w, r, sum, err)
}

// writeSummary: 200 quando o mercado ficou terminal, 202 se ainda há apostas abertas
func (a *API) writeSummary(w http.ResponseWriter, r *http.Request, sum settlement.Summary, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !sum.Complete {
		status = http.StatusAccepted
	}
	writeJSON(w, status, dto.FromSummary(sum))
}

func (a *API) selectionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sel, err := a.Store.GetSelection(r.Context(), id)
	if errors.Is(err, domain.ErrSelectionNotFound) {
		err = domain.Errorf(domain.ErrNotFound, "selection %s", id)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeSelection(w, r, sel)
}

// updateOdds edita a odd (antes do lock e sem apostas) e devolve o histórico
func (a *API) updateOdds(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateOddsRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sel, err := a.Markets.UpdateOdds(r.Context(), chi.URLParam(r, "id"), req.Odds)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeSelection(w, r, sel)
}

func (a *API) writeSelection(w http.ResponseWriter, r *http.Request, sel domain.Selection) {
	hist, err := a.Store.OddsHistory(r.Context(), sel.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SelectionWithHistory{
		Selection: dto.FromSelection(sel),
		History: dto.Map(hist, func(s domain.OddsSnapshot) dto.OddsSnapshot {
			return dto.OddsSnapshot{Version: s.Version, Odds: domain.FormatOdds(s.Odds), EffectiveAt: s.EffectiveAt}
		}),
	})
}
