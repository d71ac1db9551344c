package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/firewatch/firewatch/internal/api/models"
)

// Quota is a request budget per client over a sliding window.
type Quota struct {
	Requests int
	Window   time.Duration

	// PerOperator keys authenticated requests by operator instead of IP, so
	// an operator moving between networks shares one budget.
	PerOperator bool
}

// Route quotas. Refetch triggers an upstream call, nearest runs a k-NN
// search; everything else is served from the in-memory snapshot.
var (
	RefetchQuota = Quota{Requests: 10, Window: time.Minute, PerOperator: true}
	NearestQuota = Quota{Requests: 30, Window: time.Minute}
	ReadQuota    = Quota{Requests: 100, Window: time.Minute}
)

// RateLimit rejects requests over q with a 429 problem and a Retry-After
// of one window.
func RateLimit(q Quota) func(http.Handler) http.Handler {
	key := httprate.KeyByRealIP
	if q.PerOperator {
		key = operatorOrIP
	}
	retryAfter := strconv.Itoa(int(math.Ceil(q.Window.Seconds())))

	return httprate.Limit(q.Requests, q.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").
				WithInstance(r.URL.Path).
				Write(w)
		}),
	)
}

func operatorOrIP(r *http.Request) (string, error) {
	if operator := GetOperator(r.Context()); operator != "" {
		return "operator:" + operator, nil
	}
	return httprate.KeyByRealIP(r)
}
