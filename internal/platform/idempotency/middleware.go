package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
	"github.com/shopeasy/storefront/internal/platform/requestctx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
)

type options struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// Option customises the middleware.
type Option func(*options)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured event logger.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Middleware replays the stored response for a repeated Idempotency-Key and rejects concurrent
// duplicates. Keys are scoped to the authenticated user. Server errors and conflicts are not
// stored so the client can retry with the same key.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		header: defaultHeader,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+o.header+" header", http.StatusBadRequest))
				return
			}
			if len(key) > 255 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requester := "anonymous"
			if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
				requester = identity.UID
			}
			scoped := requester + "|" + key
			fingerprint := hashHex([]byte(r.Method + "|" + r.URL.Path + "|" + requester + "|" + hashHex(body)))

			state, record, err := store.Reserve(ctx, scoped, fingerprint, o.clock(), o.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				o.logger(ctx, "idempotency.reserve_failed", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}
			switch state {
			case StateCompleted:
				replay(w, record)
				return
			case StatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			ctx = requestctx.WithIdempotencyKey(ctx, key)
			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status >= http.StatusInternalServerError || rec.status == http.StatusConflict {
				if err := store.Release(ctx, scoped); err != nil {
					o.logger(ctx, "idempotency.release_failed", map[string]any{"error": err.Error()})
				}
			} else {
				resp := Response{Status: rec.status, Headers: rec.header, Body: rec.body.Bytes()}
				if err := store.Complete(ctx, scoped, fingerprint, resp, o.clock(), o.ttl); err != nil {
					o.logger(ctx, "idempotency.complete_failed", map[string]any{"error": err.Error()})
				}
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

// recorder buffers the handler response so it can be stored before reaching the client.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	if r.status == 0 {
		r.status = http.StatusOK
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}

// RunPurger deletes expired records every interval until ctx is done.
func RunPurger(ctx context.Context, store Store, interval time.Duration, logger func(context.Context, string, map[string]any)) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now, 500)
			if err != nil {
				if logger != nil {
					logger(ctx, "idempotency.purge_failed", map[string]any{"error": err.Error()})
				}
				continue
			}
			if removed > 0 && logger != nil {
				logger(ctx, "idempotency.purged", map[string]any{"removed": removed})
			}
		}
	}
}
