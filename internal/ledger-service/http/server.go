package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/radieske/prediction-ledger/internal/ledger-service/auth"
	"github.com/radieske/prediction-ledger/internal/ledger-service/betting"
	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/dto"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ledger"
	"github.com/radieske/prediction-ledger/internal/ledger-service/market"
	"github.com/radieske/prediction-ledger/internal/ledger-service/projector"
	"github.com/radieske/prediction-ledger/internal/ledger-service/repo"
	"github.com/radieske/prediction-ledger/internal/ledger-service/settlement"
	"github.com/radieske/prediction-ledger/internal/ledger-service/ws"
)

// API expõe os endpoints REST do ledger de apostas
// Leituras vão direto ao Store / Projector; escritas passam pelos serviços
type API struct {
	Store      repo.Store
	Ledger     *ledger.Service
	Markets    *market.Service
	Bets       *betting.Engine
	Settlement *settlement.Engine
	Projector  *projector.Projector
	Tokens     *auth.Tokens
	Hub        *ws.Hub // nil desabilita /ws
	Log        *zap.Logger

	DefaultBalance int64
	CORSOrigins    []string
	BetLimiter     *Limiter // nil = sem limite
}

// Router retorna o roteador HTTP com todos os endpoints
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   a.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	// o browser não envia Authorization no upgrade, então /ws aceita ?token=
	r.Get("/ws", a.serveWS)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.With(a.limitBets).Post("/bets", a.placeBet)
		r.Get("/bets/me", a.myBets)

		r.Get("/users/me", a.me)
		r.Get("/users/me/ledger", a.myLedger)
		r.Get("/users/me/stats", a.myStats)
		r.Get("/users/me/streak", a.myStreak)

		r.Get("/leaderboard", a.leaderboard)
		r.Get("/leaderboard/{id}", a.tournamentLeaderboard)
		r.Get("/feed", a.feed)
		r.Get("/notifications", a.notifications)
		r.Post("/notifications/{id}/read", a.readNotification)

		r.Get("/tournaments", a.listTournaments)
		r.Get("/tournaments/{id}", a.getTournament)
		r.Get("/tournaments/{id}/events", a.tournamentEvents)
		r.Get("/tournaments/{id}/markets", a.tournamentMarkets)
		r.Get("/events/{id}", a.getEvent)
		r.Get("/events/{id}/markets", a.eventMarkets)
		r.Get("/markets/{id}", a.getMarket)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Post("/users", a.createUser)
			r.Get("/users", a.listUsers)
			r.Post("/users/{id}/adjust-balance", a.adjustBalance)
			r.Post("/users/{id}/deactivate", a.setActive(false))
			r.Post("/users/{id}/activate", a.setActive(true))

			r.Post("/tournaments", a.createTournament)
			r.Patch("/tournaments/{id}/status", a.tournamentStatus)
			r.Post("/events", a.createEvent)
			r.Patch("/events/{id}/status", a.eventStatus)

			r.Post("/markets", a.createMarket)
			r.Patch("/markets/{id}/status", a.marketStatus)
			r.Get("/markets/{id}/bets", a.marketBets)
			r.Post("/markets/{id}/settle", a.settleMarket)
			r.Post("/markets/{id}/void", a.voidMarket)

			r.Get("/selections/{id}", a.selectionHistory)
			r.Patch("/selections/{id}", a.updateOdds)
		})
	})
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var kindStatus = map[domain.Kind]int{
	domain.KindValidation:          http.StatusBadRequest,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindConflict:            http.StatusConflict,
	domain.KindInsufficientBalance: http.StatusUnprocessableEntity,
	domain.KindAuthorization:       http.StatusForbidden,
}

// writeError traduz o erro de negócio para {error, detail}.
// Erros desconhecidos viram 500 com detalhe genérico e vão para o log.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		a.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: string(domain.KindInternal), Detail: "internal error"})
		return
	}
	writeJSON(w, status, dto.ErrorResponse{Error: string(kind), Detail: err.Error()})
}

// decode lê o corpo JSON; corpo inválido é validation_error
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Errorf(domain.ErrValidation, "malformed JSON body: %v", err)
	}
	return nil
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}
