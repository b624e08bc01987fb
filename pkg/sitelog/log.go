// Package sitelog carries the zerolog logger through contexts and HTTP requests
package sitelog

import (
	"bufio"
	"context"
	"net"
	"net/http"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logKey struct{}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// Log returns the logger attached to ctx or the global logger if there is none
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}

// WithTask returns a context whose logger tags every event with the task name
func WithTask(ctx context.Context, task string) context.Context {
	logger := Log(ctx).With().Str("task", task).Logger()
	return WithLogger(ctx, &logger)
}

// MakeLogMiddleware tags each request with an ID and logs it once it's been served
func MakeLogMiddleware(base context.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			reqID := nanoid.New()
			logger := Log(base).With().Str("req", reqID).Logger()

			rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
			ctx := WithLogger(r.Context(), &logger)
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Msg("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack is needed for the live reload websocket
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, eris.New("response writer does not support hijacking")
	}

	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
