package memory

import (
	"context"
	"strings"
	"testing"
)

func TestLogAppendAndEntries(t *testing.T) {
	log := NewLog(4)
	log.Append(Entry{Iteration: 1, Kind: KindDraft, Content: "first"})
	log.Append(Entry{Iteration: 1, Kind: KindFeedback, Content: "too short"})

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "first" || entries[1].Kind != KindFeedback {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].At.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}

	entries[0].Content = "mutated"
	if log.Entries()[0].Content != "first" {
		t.Fatalf("Entries must return a copy")
	}
}

func TestLogEvictsOldest(t *testing.T) {
	log := NewLog(2)
	for i := 1; i <= 5; i++ {
		log.Append(Entry{Iteration: i, Kind: KindObservation, Content: "obs"})
	}
	if log.Len() != 2 {
		t.Fatalf("expected 2 retained entries, got %d", log.Len())
	}
	if log.Evicted() != 3 {
		t.Fatalf("expected 3 evicted, got %d", log.Evicted())
	}
	if got := log.Entries()[0].Iteration; got != 4 {
		t.Fatalf("expected oldest retained iteration 4, got %d", got)
	}
}

func TestLogDefaultCapacity(t *testing.T) {
	log := NewLog(0)
	for i := 0; i < DefaultCapacity+3; i++ {
		log.Append(Entry{Iteration: i})
	}
	if log.Len() != DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", DefaultCapacity, log.Len())
	}
}

func TestLogStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	log := NewLog(8)

	if _, err := log.Retrieve(ctx, nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty log, got %v", err)
	}
	if err := log.Store(ctx, "price series fetched"); err != nil {
		t.Fatalf("Store string: %v", err)
	}
	if err := log.Store(ctx, Entry{Iteration: 2, Kind: KindDraft, Content: "draft"}); err != nil {
		t.Fatalf("Store entry: %v", err)
	}
	if err := log.Store(ctx, 42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}

	latest, err := log.Retrieve(ctx, nil)
	if err != nil || latest.(Entry).Kind != KindDraft {
		t.Fatalf("unexpected latest %v (%v)", latest, err)
	}
	obs, err := log.Retrieve(ctx, func(e Entry) bool { return e.Kind == KindObservation })
	if err != nil || obs.(Entry).Content != "price series fetched" {
		t.Fatalf("unexpected observation %v (%v)", obs, err)
	}
	if _, err := log.Retrieve(ctx, "bad query"); err == nil {
		t.Fatalf("expected error for unsupported query")
	}
}

func TestLogRender(t *testing.T) {
	log := NewLog(4)
	if log.Render() != "" {
		t.Fatalf("expected empty render")
	}
	log.Append(Entry{Iteration: 1, Kind: KindDraft, Content: "AAPL rose"})
	log.Append(Entry{Iteration: 2, Kind: KindObservation, Content: "volume data"})
	out := log.Render()
	if !strings.Contains(out, "[iteration 1 draft] AAPL rose") || strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected render %q", out)
	}
}
