// Package middleware holds the HTTP wrappers used in front of the ingress.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type fieldsKey struct{}

// requestFields collects what handlers learn about a request while it runs,
// such as the connection a WebSocket upgrade turned into.
type requestFields struct {
	mu     sync.Mutex
	fields logrus.Fields
}

// Annotate adds key to the log line LogRequests writes for the request
// carried by ctx. Outside LogRequests it does nothing.
func Annotate(ctx context.Context, key string, value any) {
	rf, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	rf.mu.Lock()
	rf.fields[key] = value
	rf.mu.Unlock()
}

// LogRequests writes one line per request once its handler returns. For a
// WebSocket upgrade that is when the peer goes away, so duration is the
// session length and the line carries the connection the peer was given.
// The ResponseWriter is passed through untouched so upgrades can still
// hijack it.
func LogRequests(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rf := &requestFields{fields: logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}}
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fieldsKey{}, rf)))

			rf.mu.Lock()
			rf.fields["duration"] = time.Since(start)
			entry := logger.WithFields(rf.fields)
			_, upgraded := rf.fields["conn"]
			rf.mu.Unlock()

			if upgraded {
				entry.Info("websocket session ended")
				return
			}
			entry.Info("http request")
		})
	}
}
