package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registration binds a client to its credential requirements and retry
// policy.
type Registration struct {
	Client Client
	// CredentialEnvs names the environment variables that must all hold a
	// value before the backend is dispatched. Empty means the backend
	// needs none.
	CredentialEnvs []string
	Retry          RetryPolicy
}

// Router dispatches completion requests to registered backends. Transient
// failures are retried with exponential backoff; credential and
// authorization failures never are.
type Router struct {
	logger *slog.Logger
	getenv func(key string) string
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	backends map[string]Registration
}

// RouterOption customizes router construction.
type RouterOption func(r *Router)

// WithGetenv overrides environment lookup.
func WithGetenv(getenv func(key string) string) RouterOption {
	return func(r *Router) { r.getenv = getenv }
}

// WithSleep overrides the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RouterOption {
	return func(r *Router) { r.sleep = sleep }
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:   logger,
		getenv:   os.Getenv,
		sleep:    sleepContext,
		backends: make(map[string]Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend under its client name.
func (r *Router) Register(reg Registration) error {
	if reg.Client == nil {
		return fmt.Errorf("provider: registration has no client")
	}
	name := strings.ToLower(strings.TrimSpace(reg.Client.Name()))
	if name == "" {
		return fmt.Errorf("provider: client has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("provider: %s is already registered", name)
	}
	r.backends[name] = reg
	return nil
}

// Names returns the registered backend names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Complete dispatches one request to a named backend. The credential is
// validated before the first attempt; a missing credential fails without
// touching the network. Attempts stop immediately on authorization
// failures and after the retry budget for transient ones.
func (r *Router) Complete(ctx context.Context, name string, req Request) (Response, error) {
	r.mu.RLock()
	reg, ok := r.backends[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return Response{}, &Error{
			Kind:     KindInvalidRequest,
			Provider: name,
			Message:  "unknown provider",
		}
	}

	for _, env := range reg.CredentialEnvs {
		if strings.TrimSpace(r.getenv(env)) == "" {
			return Response{}, &Error{
				Kind:     KindMissingCredential,
				Provider: reg.Client.Name(),
				Message:  fmt.Sprintf("environment variable %s is not set", env),
			}
		}
	}

	policy := reg.Retry.withDefaults()
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := reg.Client.Complete(ctx, req)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("provider request succeeded after retry", "provider", reg.Client.Name(), "attempts", attempt+1)
			}
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return Response{}, err
		}
		if attempt >= policy.MaxRetries {
			break
		}

		wait := policy.Interval(attempt + 1)
		r.logger.Warn("provider request failed, retrying",
			"provider", reg.Client.Name(),
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"wait", wait,
			"error", err,
		)
		if err := r.sleep(ctx, wait); err != nil {
			return Response{}, err
		}
	}

	return Response{}, &Error{
		Kind:     KindRetriesExhausted,
		Provider: reg.Client.Name(),
		Message:  fmt.Sprintf("gave up after %d retries", policy.MaxRetries),
		Cause:    lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
