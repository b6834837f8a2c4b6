package middleware

import (
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware opens one New Relic transaction per request, named by
// chi route pattern.
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

			r = newrelic.RequestWithTransactionContext(r, txn)
			next.ServeHTTP(w, r)

			txn.SetName(r.Method + " " + route(r))
		})
	}
}
