package transport

import (
	"net/http"
	"strings"

	"github.com/rhuss/authcore/pkg/api"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds client-supplied IDs so they cannot bloat logs.
const maxRequestIDLen = 128

// RequestID returns middleware that assigns a unique request ID to each
// request. A well-formed X-Request-ID header from the client is reused;
// otherwise a new ID is generated. The ID is stored in the context and
// echoed in the response header.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLen {
				id = api.NewID()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
		})
	}
}
