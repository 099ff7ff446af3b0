package configstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/relaymesh/paf/internal/profile"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestLoadMissingIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(profile.Anthropic)
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("want ErrConfigMissing, got %v", err)
	}
}

func TestLoadAllWritesDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := s.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for _, f := range profile.Families() {
		snap, err := s.Snapshot(f)
		if err != nil {
			t.Fatalf("Snapshot(%s): %v", f, err)
		}
		if snap.Mode != profile.ModeManual {
			t.Errorf("family %s: want manual mode default, got %s", f, snap.Mode)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	state := profile.FamilyState{
		Mode: profile.ModeLoadBalance,
		Endpoints: []profile.Endpoint{
			{Name: "a", BaseURL: "https://a.example.com", Weight: 3, Enabled: true},
			{Name: "b", BaseURL: "https://b.example.com", Weight: 0, Enabled: true},
		},
		LoadBalancer: profile.LoadBalancerSettings{Strategy: profile.StrategyWeighted},
	}
	if err := s.Save(profile.Anthropic, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(profile.Anthropic)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Endpoints) != 2 {
		t.Fatalf("want 2 endpoints, got %d", len(loaded.Endpoints))
	}
	// weight=0 defaults to 1 on normalise.
	b, ok := loaded.Find("b")
	if !ok || b.Weight != 1 {
		t.Fatalf("want endpoint b weight normalised to 1, got %+v", b)
	}
}

func TestSaveRepairsActiveName(t *testing.T) {
	s := newTestStore(t)
	state := profile.FamilyState{
		Mode:       profile.ModeManual,
		ActiveName: "does-not-exist",
		Endpoints: []profile.Endpoint{
			{Name: "a", Enabled: false},
			{Name: "b", Enabled: true},
		},
	}
	if err := s.Save(profile.Anthropic, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, _ := s.Snapshot(profile.Anthropic)
	if snap.ActiveName != "b" {
		t.Fatalf("want active-name repaired to 'b', got %q", snap.ActiveName)
	}
}

func TestSaveClearsActiveNameWhenNoneEnabled(t *testing.T) {
	s := newTestStore(t)
	state := profile.FamilyState{
		Mode:       profile.ModeManual,
		ActiveName: "a",
		Endpoints: []profile.Endpoint{
			{Name: "a", Enabled: false},
		},
	}
	if err := s.Save(profile.Anthropic, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, _ := s.Snapshot(profile.Anthropic)
	if snap.ActiveName != "" {
		t.Fatalf("want active-name cleared, got %q", snap.ActiveName)
	}
}

// TestAtomicSaveUnderConcurrentRead exercises scenario 6 from the spec:
// while a saver is mid-rewrite, concurrent readers must observe either the
// pre-save or post-save state, never an error or a blend.
func TestAtomicSaveUnderConcurrentRead(t *testing.T) {
	s := newTestStore(t)
	initial := profile.FamilyState{
		Mode:      profile.ModeLoadBalance,
		Endpoints: []profile.Endpoint{{Name: "a", Enabled: true, Weight: 1}},
	}
	if err := s.Save(profile.Anthropic, initial); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	next := profile.FamilyState{
		Mode: profile.ModeLoadBalance,
		Endpoints: []profile.Endpoint{
			{Name: "a", Enabled: true, Weight: 1},
			{Name: "b", Enabled: true, Weight: 2},
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Save(profile.Anthropic, next); err != nil {
			t.Errorf("concurrent Save: %v", err)
		}
	}()

	for i := 0; i < 100; i++ {
		snap, err := s.Snapshot(profile.Anthropic)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap.Endpoints) != 1 && len(snap.Endpoints) != 2 {
			t.Fatalf("observed blended state with %d endpoints", len(snap.Endpoints))
		}
	}
	wg.Wait()
}

func TestSystemConfigDefaultsOnMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.yaml")
	cfg, err := LoadSystemConfig(path)
	if err != nil {
		t.Fatalf("LoadSystemConfig: %v", err)
	}
	if cfg.WebPort != 8800 || cfg.AnthropicPort != 8801 || cfg.OpenAIPort != 8802 {
		t.Fatalf("unexpected default ports: %+v", cfg)
	}

	reloaded, err := LoadSystemConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != cfg {
		t.Fatalf("round trip mismatch: %+v vs %+v", cfg, reloaded)
	}
}
