package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
)

func sampleSuggestions(title string) []suggest.Suggestion {
	return []suggest.Suggestion{{
		BlockID:  1,
		Title:    title,
		URL:      "https://example.com/" + title,
		Provider: "test",
	}}
}

func TestDedupedMapSharesIdenticalValues(t *testing.T) {
	m := NewDedupedMap()
	meta := EntryMeta{Expiry: time.Now().Add(time.Minute)}

	for i := 0; i < 10; i++ {
		m.Insert(fmt.Sprintf("key-%d", i), meta, sampleSuggestions("same"))
	}

	if got := m.LenPointers(); got != 10 {
		t.Errorf("expected 10 pointers, got %d", got)
	}
	if got := m.LenStorage(); got != 1 {
		t.Errorf("identical payloads must share one storage entry, got %d", got)
	}
}

func TestDedupedMapStorageNeverExceedsPointers(t *testing.T) {
	m := NewDedupedMap()
	meta := EntryMeta{Expiry: time.Now().Add(time.Minute)}
	for i := 0; i < 20; i++ {
		m.Insert(fmt.Sprintf("key-%d", i), meta, sampleSuggestions(fmt.Sprintf("title-%d", i%3)))
	}
	if m.LenStorage() > m.LenPointers() {
		t.Errorf("storage (%d) exceeds pointers (%d)", m.LenStorage(), m.LenPointers())
	}
}

func TestDedupedMapRemoveReleasesStorage(t *testing.T) {
	m := NewDedupedMap()
	meta := EntryMeta{Expiry: time.Now().Add(time.Minute)}
	m.Insert("a", meta, sampleSuggestions("shared"))
	m.Insert("b", meta, sampleSuggestions("shared"))

	m.Remove("a")
	if got := m.LenStorage(); got != 1 {
		t.Errorf("storage must stay while a pointer remains, got %d", got)
	}
	m.Remove("b")
	if got := m.LenStorage(); got != 0 {
		t.Errorf("storage must drop with the last pointer, got %d", got)
	}
	if got := m.LenPointers(); got != 0 {
		t.Errorf("expected no pointers, got %d", got)
	}
}

func TestDedupedMapGet(t *testing.T) {
	m := NewDedupedMap()
	meta := EntryMeta{Expiry: time.Now().Add(time.Minute)}
	m.Insert("key", meta, sampleSuggestions("hello"))

	got, suggestions, ok := m.Get("key")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if !got.Expiry.Equal(meta.Expiry) {
		t.Errorf("metadata mismatch: %v vs %v", got.Expiry, meta.Expiry)
	}
	if len(suggestions) != 1 || suggestions[0].Title != "hello" {
		t.Errorf("unexpected suggestions: %+v", suggestions)
	}
	if _, _, ok := m.Get("missing"); ok {
		t.Error("absent key must report not found")
	}
}

func TestDedupedMapInsertReplacesValue(t *testing.T) {
	m := NewDedupedMap()
	meta := EntryMeta{Expiry: time.Now().Add(time.Minute)}
	m.Insert("key", meta, sampleSuggestions("old"))
	m.Insert("key", meta, sampleSuggestions("new"))

	_, suggestions, ok := m.Get("key")
	if !ok || suggestions[0].Title != "new" {
		t.Errorf("expected replacement value, got %+v", suggestions)
	}
	if got := m.LenStorage(); got != 1 {
		t.Errorf("replaced value must release the old storage entry, got %d", got)
	}
}

func TestRemoveExpiredHonorsBound(t *testing.T) {
	m := NewDedupedMap()
	past := EntryMeta{Expiry: time.Now().Add(-time.Minute)}
	for i := 0; i < 10; i++ {
		m.Insert(fmt.Sprintf("key-%d", i), past, sampleSuggestions(fmt.Sprintf("t%d", i)))
	}

	removed := m.RemoveExpired(time.Now(), 4)
	if removed != 4 {
		t.Errorf("expected the sweep to stop at the bound, removed %d", removed)
	}
	if got := m.LenPointers(); got != 6 {
		t.Errorf("expected 6 pointers left, got %d", got)
	}

	// The rest goes in later sweeps.
	m.RemoveExpired(time.Now(), 100)
	if got := m.LenPointers(); got != 0 {
		t.Errorf("expected all expired entries gone, got %d", got)
	}
	if got := m.LenStorage(); got != 0 {
		t.Errorf("expected storage swept with pointers, got %d", got)
	}
}

func TestRemoveExpiredKeepsLiveEntries(t *testing.T) {
	m := NewDedupedMap()
	m.Insert("dead", EntryMeta{Expiry: time.Now().Add(-time.Second)}, sampleSuggestions("dead"))
	m.Insert("live", EntryMeta{Expiry: time.Now().Add(time.Hour)}, sampleSuggestions("live"))

	m.RemoveExpired(time.Now(), 100)
	if _, _, ok := m.Get("dead"); ok {
		t.Error("expired entry must be removed")
	}
	if _, _, ok := m.Get("live"); !ok {
		t.Error("live entry must survive the sweep")
	}
}
