package provider

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"
)

// stubClient fails a scripted number of times before succeeding.
type stubClient struct {
	name     string
	failures []error
	calls    int
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	c.calls++
	if c.calls <= len(c.failures) {
		return Response{}, c.failures[c.calls-1]
	}
	return Response{Text: "hello", Model: req.Model}, nil
}

func newTestRouter(t *testing.T, reg Registration, env map[string]string) (*Router, *[]time.Duration) {
	t.Helper()
	var waits []time.Duration
	router := NewRouter(nil,
		WithGetenv(func(key string) string { return env[key] }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return ctx.Err()
		}),
	)
	if err := router.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return router, &waits
}

func transientError(status int) error {
	return &Error{Kind: ClassifyStatus(status), Provider: "stub", StatusCode: status, Message: "upstream failure"}
}

func TestCompleteMissingCredentialFailsWithoutDispatch(t *testing.T) {
	client := &stubClient{name: "stub"}
	router, _ := newTestRouter(t, Registration{Client: client, CredentialEnvs: []string{"STUB_API_KEY"}}, nil)

	_, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
	if KindOf(err) != KindMissingCredential {
		t.Fatalf("Complete() error kind = %q, want missing_credential", KindOf(err))
	}
	if client.calls != 0 {
		t.Fatalf("client was dispatched %d times, want 0", client.calls)
	}
}

func TestCompleteRequiresEveryCredential(t *testing.T) {
	client := &stubClient{name: "stub"}
	reg := Registration{Client: client, CredentialEnvs: []string{"STUB_API_KEY", "STUB_ORG_ID"}}
	router, _ := newTestRouter(t, reg, map[string]string{"STUB_API_KEY": "k"})

	_, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
	if KindOf(err) != KindMissingCredential {
		t.Fatalf("Complete() error kind = %q, want missing_credential", KindOf(err))
	}
	var provErr *Error
	if !errors.As(err, &provErr) || !strings.Contains(provErr.Message, "STUB_ORG_ID") {
		t.Fatalf("Complete() error = %v, want the missing variable named", err)
	}
	if client.calls != 0 {
		t.Fatalf("client was dispatched %d times, want 0", client.calls)
	}

	router2, _ := newTestRouter(t, reg, map[string]string{
		"STUB_API_KEY": "k",
		"STUB_ORG_ID":  "org",
	})
	if _, err := router2.Complete(context.Background(), "stub", Request{Model: "m"}); err != nil {
		t.Fatalf("Complete() with all credentials error = %v", err)
	}
}

func TestCompleteAuthFailureIsNotRetried(t *testing.T) {
	for _, status := range []int{401, 403} {
		client := &stubClient{name: "stub", failures: []error{transientError(status)}}
		router, waits := newTestRouter(t, Registration{Client: client}, nil)

		_, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
		if KindOf(err) != KindAuthFailed {
			t.Fatalf("status %d: error kind = %q, want auth_failed", status, KindOf(err))
		}
		if client.calls != 1 {
			t.Fatalf("status %d: client called %d times, want 1", status, client.calls)
		}
		if len(*waits) != 0 {
			t.Fatalf("status %d: router slept %v, want no backoff", status, *waits)
		}
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	client := &stubClient{name: "stub", failures: []error{
		transientError(429),
		transientError(500),
		syscall.ECONNRESET,
	}}
	router, waits := newTestRouter(t, Registration{Client: client}, nil)

	resp, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("response text = %q", resp.Text)
	}
	if client.calls != 4 {
		t.Fatalf("client called %d times, want 4", client.calls)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("backoff waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("wait %d = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestCompleteExhaustsRetryBudget(t *testing.T) {
	failures := make([]error, 10)
	for i := range failures {
		failures[i] = transientError(503)
	}
	client := &stubClient{name: "stub", failures: failures}
	router, waits := newTestRouter(t, Registration{
		Client: client,
		Retry:  RetryPolicy{MaxRetries: 3},
	}, nil)

	_, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
	if KindOf(err) != KindRetriesExhausted {
		t.Fatalf("error kind = %q, want retries_exhausted", KindOf(err))
	}

	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("error type = %T", err)
	}
	var lastErr *Error
	if !errors.As(provErr.Cause, &lastErr) || lastErr.StatusCode != 503 {
		t.Fatalf("exhaustion cause = %v, want last transient error", provErr.Cause)
	}

	if client.calls != 4 {
		t.Fatalf("client called %d times, want initial + 3 retries", client.calls)
	}
	if len(*waits) != 3 {
		t.Fatalf("router slept %d times, want 3", len(*waits))
	}
}

func TestCompleteInvalidRequestIsNotRetried(t *testing.T) {
	client := &stubClient{name: "stub", failures: []error{transientError(400)}}
	router, _ := newTestRouter(t, Registration{Client: client}, nil)

	_, err := router.Complete(context.Background(), "stub", Request{Model: "m"})
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("error kind = %q, want invalid_request", KindOf(err))
	}
	if client.calls != 1 {
		t.Fatalf("client called %d times, want 1", client.calls)
	}
}

func TestCompleteUnknownProvider(t *testing.T) {
	router := NewRouter(nil)
	_, err := router.Complete(context.Background(), "missing", Request{})
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("error kind = %q, want invalid_request", KindOf(err))
	}
}

func TestCompleteStopsWhenCallerCancels(t *testing.T) {
	client := &stubClient{name: "stub", failures: []error{transientError(429), transientError(429)}}
	ctx, cancel := context.WithCancel(context.Background())

	router := NewRouter(nil,
		WithGetenv(func(string) string { return "" }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	if err := router.Register(Registration{Client: client}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := router.Complete(ctx, "stub", Request{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Complete() error = %v, want context.Canceled", err)
	}
	if client.calls != 1 {
		t.Fatalf("client called %d times after cancel, want 1", client.calls)
	}
}

func TestRetryPolicyInterval(t *testing.T) {
	policy := RetryPolicy{}
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		320 * time.Second,
		320 * time.Second,
	}
	for i, expected := range want {
		if got := policy.Interval(i + 1); got != expected {
			t.Fatalf("Interval(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"localhost:11434", "http://localhost:11434"},
		{"https://api.openai.com", "https://api.openai.com"},
		{"http://proxy.internal", "http://proxy.internal"},
		{"  example.com  ", "http://example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeHost(tc.in); got != tc.want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveHost(t *testing.T) {
	if got := ResolveHost("", "https://api.openai.com"); got != "https://api.openai.com" {
		t.Fatalf("ResolveHost default = %q", got)
	}
	if got := ResolveHost("my-proxy:8080", "https://api.openai.com"); got != "http://my-proxy:8080" {
		t.Fatalf("ResolveHost configured = %q", got)
	}
}
