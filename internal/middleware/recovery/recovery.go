// Package recovery turns handler panics into 500 responses and reports them
// to Sentry when a client is configured.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	applog "orti/internal/log"
)

// Middleware recovers panics. onPanic writes the response; when nil a plain
// 500 is sent.
func Middleware(onPanic func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
				r = r.WithContext(sentry.SetHubOnContext(r.Context(), hub))
			}
			hub.Scope().SetRequest(r)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				applog.FromContext(r.Context()).ErrorContext(r.Context(), "Handler panic",
					applog.FieldError, err.Error(),
					applog.FieldMethod, r.Method,
					applog.FieldPath, r.URL.Path,
					"stack", string(debug.Stack()))

				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("http.method", r.Method)
					scope.SetTag("http.path", r.URL.Path)
					hub.RecoverWithContext(r.Context(), rec)
				})

				if onPanic != nil {
					onPanic(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CaptureError reports a server-side error for r to Sentry. It is a no-op
// when no client is configured.
func CaptureError(r *http.Request, status int, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("http.method", r.Method)
		scope.SetTag("http.path", r.URL.Path)
		scope.SetTag("http.status", fmt.Sprint(status))
		hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
