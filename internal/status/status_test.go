package status

import "testing"

func TestStartFromIdleBeginsDownloading(t *testing.T) {
	r := NewRegistry()
	ctx, started := r.Start("game-1")
	if !started || ctx == nil {
		t.Fatalf("expected start to transition, got started=%v ctx=%v", started, ctx)
	}
	got := r.Get("game-1")
	if got.State != StateDownloading {
		t.Fatalf("state = %s, want downloading", got.State)
	}
}

func TestStartIsIdempotentWhileInFlight(t *testing.T) {
	r := NewRegistry()
	r.Start("game-1")
	r.MarkProcessing("game-1")

	_, started := r.Start("game-1")
	if started {
		t.Fatal("expected second Start on an in-flight job to be a no-op")
	}
	if got := r.Get("game-1").State; got != StateProcessing {
		t.Fatalf("state = %s, want processing unchanged", got)
	}
}

func TestStartAfterCompletedRestarts(t *testing.T) {
	r := NewRegistry()
	r.Start("game-1")
	r.Complete("game-1")

	_, started := r.Start("game-1")
	if !started {
		t.Fatal("expected Start after completion to transition back to downloading")
	}
	if got := r.Get("game-1").State; got != StateDownloading {
		t.Fatalf("state = %s, want downloading", got)
	}
}

func TestProgressClampedToUnitRange(t *testing.T) {
	r := NewRegistry()
	r.Start("game-1")
	r.SetDownloadProgress("game-1", 1.5)
	r.SetDownloadProgress("game-1", -0.2)
	got := r.Get("game-1")
	if got.Download != 0 {
		t.Fatalf("download = %v, want clamp to last call (-0.2 -> 0)", got.Download)
	}
}

func TestStopFiresCancellationToken(t *testing.T) {
	r := NewRegistry()
	ctx, _ := r.Start("game-1")
	r.Stop("game-1")
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled after Stop")
	}
}

func TestGetUnknownJobReturnsIdle(t *testing.T) {
	r := NewRegistry()
	got := r.Get("nope")
	if got.State != StateIdle {
		t.Fatalf("state = %s, want idle for unknown job", got.State)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	r := NewRegistry()
	r.Start("game-1")
	r.Remove("game-1")
	if got := r.Get("game-1").State; got != StateIdle {
		t.Fatalf("state = %s, want idle after remove", got)
	}
}
