package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/prediction-ledger/internal/ledger-service/dto"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
)

func (a *API) listTournaments(w http.ResponseWriter, r *http.Request) {
	ts, err := a.Store.ListTournaments(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(ts, dto.FromTournament))
}

func (a *API) getTournament(w http.ResponseWriter, r *http.Request) {
	t, err := a.Store.GetTournament(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromTournament(t))
}

func (a *API) tournamentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetTournament(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	evs, err := a.Store.ListEvents(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(evs, dto.FromEvent))
}

// tournamentMarkets lista os mercados ligados diretamente ao torneio
func (a *API) tournamentMarkets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetTournament(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.listMarkets(w, r, repo.MarketFilter{TournamentID: id})
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	e, err := a.Store.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromEvent(e))
}

func (a *API) eventMarkets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetEvent(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.listMarkets(w, r, repo.MarketFilter{EventID: id})
}

func (a *API) listMarkets(w http.ResponseWriter, r *http.Request, f repo.MarketFilter) {
	ms, err := a.Store.ListMarkets(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(ms, dto.FromMarket))
}

func (a *API) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := a.Store.GetMarket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromMarket(m))
}
