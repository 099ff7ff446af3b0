package health

import "testing"

func TestDefaultsHealthyWithZeroCounters(t *testing.T) {
	tr := New()
	key := Key{Family: "anthropic", Name: "a"}
	snap := tr.Status(key)
	if !snap.Healthy || snap.ConsecutiveFails != 0 || snap.ConsecutiveSuccess != 0 {
		t.Fatalf("want default healthy/zero, got %+v", snap)
	}
}

func TestMarkFailureCrossesThreshold(t *testing.T) {
	tr := New()
	key := Key{Family: "anthropic", Name: "a"}

	tr.MarkFailure(key, 3)
	tr.MarkFailure(key, 3)
	if tr.ExceededFailureThreshold(key, 3) {
		t.Fatal("should not have exceeded threshold after 2 failures")
	}
	tr.MarkFailure(key, 3)
	if !tr.ExceededFailureThreshold(key, 3) {
		t.Fatal("should have exceeded threshold after 3 failures")
	}
	if tr.Status(key).Healthy {
		t.Fatal("endpoint should be unhealthy after crossing failure threshold")
	}
}

func TestMarkSuccessResetsFailuresAndRevives(t *testing.T) {
	tr := New()
	key := Key{Family: "anthropic", Name: "a"}
	tr.MarkFailure(key, 2)
	tr.MarkFailure(key, 2)
	if tr.Status(key).Healthy {
		t.Fatal("should be unhealthy")
	}

	tr.MarkSuccess(key, 1)
	snap := tr.Status(key)
	if !snap.Healthy || snap.ConsecutiveFails != 0 {
		t.Fatalf("want healthy with zeroed failures, got %+v", snap)
	}
}

func TestMarkSuccessRequiresThreshold(t *testing.T) {
	tr := New()
	key := Key{Family: "anthropic", Name: "a"}
	tr.MarkFailure(key, 1) // now unhealthy
	tr.MarkSuccess(key, 3)
	if tr.Status(key).Healthy {
		t.Fatal("should still be unhealthy before reaching success threshold")
	}
	tr.MarkSuccess(key, 3)
	tr.MarkSuccess(key, 3)
	if !tr.Status(key).Healthy {
		t.Fatal("should be healthy after reaching success threshold")
	}
}

func TestResetRemovesRecord(t *testing.T) {
	tr := New()
	key := Key{Family: "anthropic", Name: "a"}
	tr.MarkFailure(key, 1)
	tr.Reset(key)
	if !tr.Status(key).Healthy {
		t.Fatal("status after reset should report default healthy")
	}
}
