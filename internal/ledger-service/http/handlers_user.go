package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/prediction-ledger/internal/ledger-service/betting"
	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/dto"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
)

// placeBet registra a aposta do usuário autenticado
func (a *API) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.SelectionID == "" {
		a.writeError(w, r, domain.Errorf(domain.ErrValidation, "selection_id is required"))
		return
	}
	b, err := a.Bets.PlaceBet(r.Context(), betting.PlaceBetInput{
		UserID:       currentUser(r.Context()).ID,
		SelectionID:  req.SelectionID,
		Stake:        req.Stake,
		ExpectedOdds: req.ExpectedOdds,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromBet(b))
}

// myBets lista as apostas do usuário, mais novas primeiro; ?status= filtra
func (a *API) myBets(w http.ResponseWriter, r *http.Request) {
	f := repo.BetFilter{UserID: currentUser(r.Context()).ID}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = domain.BetStatus(s)
		if !f.Status.Valid() {
			a.writeError(w, r, domain.Errorf(domain.ErrInvalidStatus, "%q", s))
			return
		}
	}
	bets, err := a.Store.ListBets(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(bets, dto.FromBet))
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.FromUser(currentUser(r.Context())))
}

func (a *API) myLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Ledger.History(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(entries, dto.FromLedgerEntry))
}

func (a *API) myStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Projector.Stats(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) myStreak(w http.ResponseWriter, r *http.Request) {
	st, err := a.Projector.Streak(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Projector.Leaderboard(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) tournamentLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Projector.TournamentLeaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// feed: ?limit (default 20, máx 100), ?offset, ?before_id
func (a *API) feed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	before, err := queryInt(r, "before_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	evs, err := a.Projector.Feed(r.Context(), projector.FeedRequest{Limit: int(limit), Offset: int(offset), BeforeID: before})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(evs, dto.FromFeedEvent))
}

// queryInt lê um inteiro não negativo da query; ausente = 0
// notifications lista a caixa de entrada (até 50, mais novas primeiro); ?unread=true filtra
func (a *API) notifications(w http.ResponseWriter, r *http.Request) {
	q := repo.NotificationQuery{UserID: currentUser(r.Context()).ID, Limit: 50}
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, r, domain.Errorf(domain.ErrValidation, "unread must be a boolean"))
			return
		}
		q.UnreadOnly = v
	}
	ns, err := a.Store.ListNotifications(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Map(ns, dto.FromNotification))
}

func (a *API) readNotification(w http.ResponseWriter, r *http.Request) {
	uid, id := currentUser(r.Context()).ID, chi.URLParam(r, "id")
	var n domain.Notification
	err := a.Store.InTx(r.Context(), func(ctx context.Context, tx repo.Tx) error {
		var err error
		n, err = tx.MarkNotificationRead(ctx, uid, id)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromNotification(n))
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, domain.Errorf(domain.ErrValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// serveWS autentica pelo header ou por ?token= e entrega a conexão ao Hub
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: string(domain.KindNotFound), Detail: "websocket disabled"})
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	u, ok := a.resolveUser(w, r, token)
	if !ok {
		return
	}
	a.Hub.Serve(w, r, u.ID)
}
