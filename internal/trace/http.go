// Package trace - HTTP middleware for the host binding surface.
package trace

import "net/http"

// HeaderTickID is the request header a host may set to correlate its own
// logs with the daemon's.
const HeaderTickID = "x-framepilot-tick-id"

// Middleware stamps every binding request with a tick ID, honoring one
// supplied by the host.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderTickID)
		if id == "" {
			id = NewTickID()
		}
		w.Header().Set(HeaderTickID, id)
		next.ServeHTTP(w, r.WithContext(WithTick(r.Context(), id)))
	})
}
