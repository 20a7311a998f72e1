// Package httplog wires zerolog into chi routers.
package httplog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Middleware logs one line per request with its status and duration.
func Middleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				ev := log.Info()
				switch {
				case status >= http.StatusInternalServerError:
					ev = log.Error()
				case status >= http.StatusBadRequest:
					ev = log.Warn()
				}
				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", middleware.GetReqID(r.Context())).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(started)).
					Msg("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
