package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware wraps each request in an APM transaction. The name is fixed
// up after routing so transactions group by route pattern, not raw path.
func NewRelicMiddleware(app *newrelic.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if app == nil {
				next.ServeHTTP(w, r)
				return
			}

			txn := app.StartTransaction(r.Method + " " + r.URL.Path)
			defer txn.End()

			txn.SetWebRequestHTTP(r)
			w = txn.SetWebResponse(w)
			if id := middleware.GetReqID(r.Context()); id != "" {
				txn.AddAttribute("request_id", id)
			}

			r = newrelic.RequestWithTransactionContext(r, txn)
			next.ServeHTTP(w, r)

			txn.SetName(r.Method + " " + routePattern(r))
		})
	}
}
