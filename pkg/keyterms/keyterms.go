// Package keyterms extracts ranked domain terms from conversational text.
package keyterms

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxTerms is the number of terms returned when no explicit limit is
// given.
const DefaultMaxTerms = 10

// stopwords holds common English function words plus chat filler that carries
// no domain signal.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "and", "for", "are", "but", "not", "you", "all", "any",
		"can", "had", "her", "was", "one", "our", "out", "day", "get",
		"has", "him", "his", "how", "man", "new", "now", "old", "see",
		"two", "way", "who", "its", "did", "let", "put", "say", "she",
		"too", "use", "that", "with", "have", "this", "will", "your",
		"from", "they", "know", "want", "been", "good", "much", "some",
		"time", "very", "when", "come", "here", "just", "like", "long",
		"make", "many", "more", "only", "over", "such", "take", "than",
		"them", "well", "were", "what", "would", "there", "their",
		"about", "could", "other", "after", "first", "never", "these",
		"think", "where", "being", "every", "great", "might", "shall",
		"still", "those", "while", "should", "because", "between",
		"before", "doing", "does", "into", "also", "then", "which",
		"help", "need", "please", "hello", "thanks", "thank", "yes",
		"okay", "sure", "sorry", "hey",
	} {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the token is filtered from extraction.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Extract returns the top maxTerms tokens of the text ranked by descending
// frequency, ties broken by first-seen order. Input is lower-cased, stripped
// of punctuation and tokenized on whitespace; tokens of length <= 2 and
// stopwords are discarded. Extract never fails; empty input yields an empty
// slice. A maxTerms <= 0 selects DefaultMaxTerms.
func Extract(text string, maxTerms int) []string {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	type termCount struct {
		term  string
		count int
		seen  int
	}

	counts := make(map[string]*termCount)
	order := make([]*termCount, 0)

	for _, token := range strings.Fields(cleaned) {
		if len(token) <= 2 || IsStopword(token) {
			continue
		}
		if tc, ok := counts[token]; ok {
			tc.count++
			continue
		}
		tc := &termCount{term: token, count: 1, seen: len(order)}
		counts[token] = tc
		order = append(order, tc)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].seen < order[j].seen
	})

	if len(order) > maxTerms {
		order = order[:maxTerms]
	}

	terms := make([]string, len(order))
	for i, tc := range order {
		terms[i] = tc.term
	}
	return terms
}
