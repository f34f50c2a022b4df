package service

import (
	"testing"
)

func newTestRouter(t *testing.T) (*Router, *Health) {
	t.Helper()
	r := NewRegistry()
	if err := r.Apply(testDescriptors()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	h := NewHealth(DefaultHealthConfig())
	return NewRouter(r, h), h
}

func routeIDs(descs []Descriptor) []string {
	ids := make([]string, len(descs))
	for i, d := range descs {
		ids[i] = d.ID
	}
	return ids
}

func assertOrder(t *testing.T, got []Descriptor, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected chain %v, got %v", want, routeIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("expected chain %v, got %v", want, routeIDs(got))
		}
	}
}

func TestRouteNoLink(t *testing.T) {
	rt, _ := newTestRouter(t)

	if got := rt.Route("", "a task tracker for plumbers"); got != nil {
		t.Errorf("expected empty chain without a link, got %v", routeIDs(got))
	}
	if got := rt.Route("   ", "a task tracker"); got != nil {
		t.Errorf("expected empty chain for blank link, got %v", routeIDs(got))
	}
}

func TestRouteMatchedServiceBeforeGeneric(t *testing.T) {
	rt, _ := newTestRouter(t)

	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "github-readme", "web-fetch")
}

func TestRouteDeepDocDomain(t *testing.T) {
	rt, _ := newTestRouter(t)

	got := rt.Route("https://deepwiki.org/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "deepwiki", "web-fetch")
}

func TestRouteKeywordPullsInDeepDoc(t *testing.T) {
	rt, _ := newTestRouter(t)

	got := rt.Route("https://github.com/nats-io/nats.go",
		"a messaging dashboard, explain the internals of the client")
	assertOrder(t, got, "github-readme", "deepwiki", "web-fetch")
}

func TestRouteUnknownDomainFallsBackToGeneric(t *testing.T) {
	rt, _ := newTestRouter(t)

	got := rt.Route("https://blog.golang.org/context", "a context-aware scheduler")
	assertOrder(t, got, "web-fetch")
}

func TestRouteSkipsDegraded(t *testing.T) {
	rt, h := newTestRouter(t)

	for i := 0; i < 3; i++ {
		h.RecordResult("github-readme", false, 0)
	}

	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "web-fetch")
}

func TestRouteDegradedRecoversAfterSuccess(t *testing.T) {
	rt, h := newTestRouter(t)

	for i := 0; i < 3; i++ {
		h.RecordResult("github-readme", false, 0)
	}
	if !h.IsDegraded("github-readme") {
		t.Fatal("expected github-readme degraded")
	}

	h.RecordResult("github-readme", true, 0)

	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "github-readme", "web-fetch")
}

func TestRouteFailOpenWhenAllDegraded(t *testing.T) {
	rt, h := newTestRouter(t)

	for _, id := range []string{"github-readme", "web-fetch"} {
		for i := 0; i < 3; i++ {
			h.RecordResult(id, false, 0)
		}
	}

	// Every candidate is degraded; the full chain is still attempted.
	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "github-readme", "web-fetch")
}

func TestRouteDegradedGenericDropped(t *testing.T) {
	rt, h := newTestRouter(t)

	for i := 0; i < 3; i++ {
		h.RecordResult("web-fetch", false, 0)
	}

	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "github-readme")
}

func TestRouteDisabledServiceExcluded(t *testing.T) {
	r := NewRegistry()
	descs := testDescriptors()
	descs[1].Enabled = false // github-readme
	if err := r.Apply(descs); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	rt := NewRouter(r, NewHealth(DefaultHealthConfig()))

	got := rt.Route("https://github.com/nats-io/nats.go", "a chat app")
	assertOrder(t, got, "web-fetch")
}

func TestRouteUnparsableLink(t *testing.T) {
	rt, _ := newTestRouter(t)

	if got := rt.Route("::not a url::", "an idea"); got != nil {
		t.Errorf("expected empty chain for unparsable link, got %v", routeIDs(got))
	}
}
