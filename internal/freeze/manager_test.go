package freeze

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/paf/internal/configstore"
	"github.com/relaymesh/paf/internal/health"
	"github.com/relaymesh/paf/internal/profile"
)

func newTestManager(t *testing.T) (*Manager, *configstore.Store) {
	t.Helper()
	store, err := configstore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("configstore.New: %v", err)
	}
	state := profile.FamilyState{
		Mode: profile.ModeLoadBalance,
		Endpoints: []profile.Endpoint{
			{Name: "a", BaseURL: "https://a.example.com", Weight: 1, Enabled: true},
		},
		LoadBalancer: profile.LoadBalancerSettings{
			Strategy:       profile.StrategyWeighted,
			HealthCheck:    profile.HealthCheckSettings{FailureThreshold: 2, SuccessThreshold: 1},
			FreezeDuration: time.Minute,
		},
	}
	if err := store.Save(profile.Anthropic, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return New(store, health.New(), nil), store
}

func TestOnFailureResponseFreezesOnlyAfterThresholdInLoadBalanceMode(t *testing.T) {
	mgr, store := newTestManager(t)
	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer

	if err := mgr.OnFailureResponse(profile.Anthropic, "a", profile.ModeLoadBalance, lb); err != nil {
		t.Fatalf("OnFailureResponse 1: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	if e, _ := snap.Find("a"); e.FrozenUntil != nil {
		t.Fatal("should not freeze before threshold is crossed")
	}

	if err := mgr.OnFailureResponse(profile.Anthropic, "a", profile.ModeLoadBalance, lb); err != nil {
		t.Fatalf("OnFailureResponse 2: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	e, _ := snap.Find("a")
	if e.FrozenUntil == nil {
		t.Fatal("should freeze once threshold is crossed in load-balance mode")
	}
}

func TestOnFailureResponseNeverFreezesInManualMode(t *testing.T) {
	mgr, store := newTestManager(t)
	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer

	for i := 0; i < 5; i++ {
		if err := mgr.OnFailureResponse(profile.Anthropic, "a", profile.ModeManual, lb); err != nil {
			t.Fatalf("OnFailureResponse: %v", err)
		}
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	if e, _ := snap.Find("a"); e.FrozenUntil != nil {
		t.Fatal("manual mode must never freeze on response status alone")
	}
}

func TestOnTransportErrorFreezesUnconditionally(t *testing.T) {
	mgr, store := newTestManager(t)
	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer

	if err := mgr.OnTransportError(profile.Anthropic, "a", lb); err != nil {
		t.Fatalf("OnTransportError: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	if e, _ := snap.Find("a"); e.FrozenUntil == nil {
		t.Fatal("transport error must freeze regardless of mode or threshold")
	}
}

func TestFreezeNeverShortensExistingDeadline(t *testing.T) {
	mgr, store := newTestManager(t)
	fixedNow := time.Now()
	mgr.now = func() time.Time { return fixedNow }

	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer
	lb.FreezeDuration = 10 * time.Minute
	if err := mgr.OnTransportError(profile.Anthropic, "a", lb); err != nil {
		t.Fatalf("first freeze: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	firstDeadline := *mustFind(t, snap, "a").FrozenUntil

	shorter := lb
	shorter.FreezeDuration = time.Minute
	if err := mgr.OnTransportError(profile.Anthropic, "a", shorter); err != nil {
		t.Fatalf("second freeze: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	secondDeadline := *mustFind(t, snap, "a").FrozenUntil

	if !secondDeadline.Equal(firstDeadline) {
		t.Fatalf("shorter freeze must not shorten the deadline: want %v, got %v", firstDeadline, secondDeadline)
	}
}

func TestOnSuccessClearsFreeze(t *testing.T) {
	mgr, store := newTestManager(t)
	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer

	if err := mgr.OnTransportError(profile.Anthropic, "a", lb); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := mgr.OnSuccess(profile.Anthropic, "a", lb); err != nil {
		t.Fatalf("OnSuccess: %v", err)
	}
	snap, _ = store.Snapshot(profile.Anthropic)
	if e, _ := snap.Find("a"); e.FrozenUntil != nil {
		t.Fatal("success must clear an existing freeze")
	}
}

type stubProber struct {
	err error
}

func (p *stubProber) Probe(ctx context.Context, family profile.Family, endpoint profile.Endpoint) error {
	return p.err
}

func TestReprobeThawsOnSuccessfulProbe(t *testing.T) {
	mgr, store := newTestManager(t)
	snap, _ := store.Snapshot(profile.Anthropic)
	lb := snap.LoadBalancer

	fixedNow := time.Now()
	mgr.now = func() time.Time { return fixedNow.Add(-time.Hour) }
	if err := mgr.OnTransportError(profile.Anthropic, "a", lb); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	mgr.now = func() time.Time { return fixedNow }

	mgr.SetProber(&stubProber{})
	mgr.reprobeFamily(context.Background(), profile.Anthropic)

	deadline := time.Now().Add(time.Second)
	for {
		snap, _ = store.Snapshot(profile.Anthropic)
		if e, _ := snap.Find("a"); e.FrozenUntil == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the background probe to thaw the endpoint")
		}
		time.Sleep(time.Millisecond)
	}
}

func mustFind(t *testing.T, state profile.FamilyState, name string) profile.Endpoint {
	t.Helper()
	e, ok := state.Find(name)
	if !ok {
		t.Fatalf("endpoint %q not found", name)
	}
	return e
}
