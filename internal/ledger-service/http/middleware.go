package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/radieske/prediction-ledger/internal/ledger-service/domain"
	"github.com/radieske/prediction-ledger/internal/ledger-service/dto"
)

type ctxKey struct{}

// currentUser devolve o usuário autenticado (colocado por authenticate)
func currentUser(ctx context.Context) domain.User {
	u, _ := ctx.Value(ctxKey{}).(domain.User)
	return u
}

func unauthenticated(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthenticated", Detail: detail})
}

// resolveUser valida o token e carrega o usuário do store.
// Usuário desativado é recusado com 403 mesmo com token válido.
func (a *API) resolveUser(w http.ResponseWriter, r *http.Request, token string) (domain.User, bool) {
	if token == "" {
		unauthenticated(w, "missing bearer token")
		return domain.User{}, false
	}
	claims, err := a.Tokens.Verify(token)
	if err != nil {
		unauthenticated(w, "invalid or expired token")
		return domain.User{}, false
	}
	u, err := a.Store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			unauthenticated(w, "unknown user")
			return domain.User{}, false
		}
		a.writeError(w, r, err)
		return domain.User{}, false
	}
	if !u.IsActive {
		a.writeError(w, r, domain.ErrUserInactive)
		return domain.User{}, false
	}
	return u, true
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := a.resolveUser(w, r, bearerToken(r))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r.Context()).IsAdmin {
			writeJSON(w, http.StatusForbidden, dto.ErrorResponse{
				Error:  string(domain.KindAuthorization),
				Detail: "admin privileges required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Limiter mantém um token bucket por usuário
type Limiter struct {
	rps   rate.Limit
	burst int
	mu    sync.Mutex
	users map[string]*rate.Limiter
}

func NewLimiter(perSec float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rps: rate.Limit(perSec), burst: burst, users: make(map[string]*rate.Limiter)}
}

// Allow consome um token do bucket do usuário
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (a *API) limitBets(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.BetLimiter != nil && !a.BetLimiter.Allow(currentUser(r.Context()).ID) {
			writeJSON(w, http.StatusTooManyRequests, dto.ErrorResponse{Error: "rate_limited", Detail: "too many bets, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
