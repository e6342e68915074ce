package remotesettings

import (
	"sort"
	"strings"

	"github.com/mozilla-services/merino/internal/suggest"
)

// indexedSuggestion pairs a suggestion template with the sorted keyword list
// it was indexed under. FullKeyword is filled in per query.
type indexedSuggestion struct {
	suggestion suggest.Suggestion
	keywords   []string
}

// snapshot is one fully-consistent view of the synced record set. It is
// built whole and swapped in atomically; queries never observe a partially
// rebuilt index.
type snapshot struct {
	// byKeyword maps each keyword to the suggestion it triggers. When two
	// records claim the same keyword the smaller block id wins, keeping the
	// index stable across syncs.
	byKeyword map[string]*indexedSuggestion
}

func newSnapshot() *snapshot {
	return &snapshot{byKeyword: make(map[string]*indexedSuggestion)}
}

// add indexes a suggestion under its keywords.
func (s *snapshot) add(sugg suggest.Suggestion, keywords []string) {
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			normalized = append(normalized, kw)
		}
	}
	sort.Strings(normalized)

	indexed := &indexedSuggestion{suggestion: sugg, keywords: normalized}
	for _, kw := range normalized {
		if existing, ok := s.byKeyword[kw]; ok && existing.suggestion.BlockID <= sugg.BlockID {
			continue
		}
		s.byKeyword[kw] = indexed
	}
}

// lookup finds the suggestion for a query: an exact keyword match first,
// otherwise the longest indexed keyword that is a prefix of the query. It
// also returns the keyword that matched.
func (s *snapshot) lookup(query string, minLength int) (*indexedSuggestion, string, bool) {
	if indexed, ok := s.byKeyword[query]; ok {
		return indexed, query, true
	}
	for l := len(query) - 1; l >= minLength; l-- {
		if indexed, ok := s.byKeyword[query[:l]]; ok {
			return indexed, query[:l], true
		}
	}
	return nil, "", false
}

// fullKeyword selects the canonical completion to echo back for a partial
// query. It mirrors the browser's client-side algorithm so online and
// offline results agree: the shortest keyword that starts with the query's
// first word, has at least as many words as the query, and is no shorter
// than the query. If none qualifies, the longest keyword that is a strict
// prefix of the query; failing that, the matched keyword itself.
func fullKeyword(query string, matched string, keywords []string) string {
	queryWords := strings.Fields(query)
	if len(queryWords) == 0 {
		return matched
	}
	firstWord := queryWords[0]

	best := ""
	for _, kw := range keywords {
		if !strings.HasPrefix(kw, firstWord) {
			continue
		}
		if len(strings.Fields(kw)) < len(queryWords) {
			continue
		}
		if len(kw) < len(query) {
			continue
		}
		// keywords is sorted, so on equal length the lexicographically
		// smaller keyword is kept.
		if best == "" || len(kw) < len(best) {
			best = kw
		}
	}
	if best != "" {
		return best
	}

	for _, kw := range keywords {
		if len(kw) < len(query) && strings.HasPrefix(query, kw) {
			if len(kw) > len(best) {
				best = kw
			}
		}
	}
	if best != "" {
		return best
	}
	return matched
}
