package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// fakeProvider answers or refuses completions by script.
type fakeProvider struct {
	id      string
	err     error
	healthy bool
	calls   int
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return "fake " + f.id }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResponse{ID: "resp-" + f.id, Content: "from " + f.id}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	if !f.healthy {
		return errors.New(f.id + " unreachable")
	}
	return nil
}

func newTestRouter() *Router {
	return NewRouter(zap.NewNop())
}

func TestRouteUsesDefault(t *testing.T) {
	r := newTestRouter()
	first := &fakeProvider{id: "alpha"}
	second := &fakeProvider{id: "beta"}
	r.Register(first)
	r.Register(second)

	resp, err := r.Route(context.Background(), "nora", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "from alpha" {
		t.Fatalf("first registration should be the default, got %q", resp.Content)
	}

	r.SetDefault("beta")
	resp, err = r.Route(context.Background(), "nora", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "from beta" {
		t.Fatalf("SetDefault not honored, got %q", resp.Content)
	}
}

func TestRouteHonorsBinding(t *testing.T) {
	r := newTestRouter()
	r.Register(&fakeProvider{id: "alpha"})
	bound := &fakeProvider{id: "beta"}
	r.Register(bound)
	r.Bind("nora", "beta")

	resp, err := r.Route(context.Background(), "nora", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "from beta" {
		t.Fatalf("binding ignored, got %q", resp.Content)
	}

	// unbound agents still use the default
	resp, _ = r.Route(context.Background(), "cole", &CompletionRequest{})
	if resp.Content != "from alpha" {
		t.Fatalf("unbound agent routed wrong, got %q", resp.Content)
	}
}

func TestRouteWalksFallbackChain(t *testing.T) {
	r := newTestRouter()
	primary := &fakeProvider{id: "alpha", err: errors.New("rate limited")}
	dead := &fakeProvider{id: "beta", err: errors.New("down")}
	alive := &fakeProvider{id: "gamma"}
	r.Register(primary)
	r.Register(dead)
	r.Register(alive)
	r.SetFallbacks("nora", []string{"beta", "gamma"})

	resp, err := r.Route(context.Background(), "nora", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Route should recover through the chain: %v", err)
	}
	if resp.Content != "from gamma" {
		t.Fatalf("expected the surviving fallback to answer, got %q", resp.Content)
	}
	if primary.calls != 1 || dead.calls != 1 || alive.calls != 1 {
		t.Fatalf("chain walked out of order: %d/%d/%d", primary.calls, dead.calls, alive.calls)
	}
}

func TestRouteWildcardFallback(t *testing.T) {
	r := newTestRouter()
	r.Register(&fakeProvider{id: "alpha", err: errors.New("rate limited")})
	r.Register(&fakeProvider{id: "beta"})
	r.SetFallbacks("*", []string{"beta"})
	r.SetFallbacks("cole", []string{"missing"})

	// nora has no chain of her own and inherits the wildcard
	resp, err := r.Route(context.Background(), "nora", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "from beta" {
		t.Fatalf("wildcard chain not used, got %q", resp.Content)
	}

	// an explicit chain shadows the wildcard even when it is worse
	if _, err := r.Route(context.Background(), "cole", &CompletionRequest{}); err == nil {
		t.Fatal("explicit chain should shadow the wildcard")
	}
}

func TestRouteFallbacksExhausted(t *testing.T) {
	r := newTestRouter()
	r.Register(&fakeProvider{id: "alpha", err: errors.New("rate limited")})
	r.Register(&fakeProvider{id: "beta", err: errors.New("down")})
	r.SetFallbacks("nora", []string{"beta", "missing"})

	if _, err := r.Route(context.Background(), "nora", &CompletionRequest{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestRouteNoProviders(t *testing.T) {
	r := newTestRouter()
	if _, err := r.Route(context.Background(), "nora", &CompletionRequest{}); err == nil {
		t.Fatal("expected error with no registered providers")
	}
}

func TestGetAndListProviders(t *testing.T) {
	r := newTestRouter()
	r.Register(&fakeProvider{id: "alpha", healthy: true})
	r.Register(&fakeProvider{id: "beta"})

	p, ok := r.GetProvider("alpha")
	if !ok || p.ID() != "alpha" {
		t.Fatalf("GetProvider failed: %v %v", p, ok)
	}
	if _, ok := r.GetProvider("missing"); ok {
		t.Fatal("GetProvider should miss on unknown id")
	}
	if got := len(r.ListProviders()); got != 2 {
		t.Fatalf("expected 2 providers, got %d", got)
	}

	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthy provider reported %v", err)
	}
	if q, _ := r.GetProvider("beta"); q.HealthCheck(context.Background()) == nil {
		t.Fatal("unhealthy provider should report an error")
	}
}
