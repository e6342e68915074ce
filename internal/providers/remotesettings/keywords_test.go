package remotesettings

import (
	"testing"

	"github.com/mozilla-services/merino/internal/suggest"
)

func TestFullKeyword(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		matched  string
		keywords []string
		want     string
	}{
		{
			name:     "query equals keyword",
			query:    "coffee",
			matched:  "coffee",
			keywords: []string{"co", "cof", "coffee"},
			want:     "coffee",
		},
		{
			name:     "partial query qualifies itself",
			query:    "cof",
			matched:  "cof",
			keywords: []string{"co", "cof", "coffee"},
			want:     "cof",
		},
		{
			name:     "multi-word query needs multi-word keyword",
			query:    "mozilla fire",
			matched:  "mozilla fire",
			keywords: []string{"mozilla", "mozilla firefox", "mozilla firefox accounts"},
			want:     "mozilla firefox",
		},
		{
			name:     "no qualifying keyword falls back to longest strict prefix",
			query:    "mozzarella sticks",
			matched:  "moz",
			keywords: []string{"mo", "moz"},
			want:     "moz",
		},
		{
			name:     "nothing qualifies falls back to matched keyword",
			query:    "zzz",
			matched:  "abc",
			keywords: []string{"abc"},
			want:     "abc",
		},
		{
			name:     "equal length prefers lexicographic order",
			query:    "ca",
			matched:  "ca",
			keywords: []string{"cab", "cat"},
			want:     "cab",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fullKeyword(tt.query, tt.matched, tt.keywords); got != tt.want {
				t.Errorf("fullKeyword(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSnapshotLookupExactAndPrefix(t *testing.T) {
	snap := newSnapshot()
	snap.add(suggest.Suggestion{BlockID: 1, Title: "Coffee"}, []string{"cof", "coffee"})

	if _, matched, ok := snap.lookup("coffee", 3); !ok || matched != "coffee" {
		t.Errorf("exact lookup failed: %q, %v", matched, ok)
	}
	// "coffe" is not indexed; the longest indexed prefix is "cof".
	if _, matched, ok := snap.lookup("coffe", 3); !ok || matched != "cof" {
		t.Errorf("prefix lookup failed: %q, %v", matched, ok)
	}
	if _, _, ok := snap.lookup("tea", 3); ok {
		t.Error("lookup of unindexed keyword must miss")
	}
}

func TestSnapshotKeywordTieBreaksOnBlockID(t *testing.T) {
	snap := newSnapshot()
	snap.add(suggest.Suggestion{BlockID: 7, Title: "Later"}, []string{"shared"})
	snap.add(suggest.Suggestion{BlockID: 3, Title: "Earlier"}, []string{"shared"})

	indexed, _, ok := snap.lookup("shared", 3)
	if !ok {
		t.Fatal("lookup missed")
	}
	if indexed.suggestion.BlockID != 3 {
		t.Errorf("expected the smaller block id to win, got %d", indexed.suggestion.BlockID)
	}
}

func TestSnapshotNormalizesKeywords(t *testing.T) {
	snap := newSnapshot()
	snap.add(suggest.Suggestion{BlockID: 1}, []string{"  MixedCase  ", ""})

	if _, _, ok := snap.lookup("mixedcase", 3); !ok {
		t.Error("keywords must be lowercased and trimmed at index time")
	}
}
