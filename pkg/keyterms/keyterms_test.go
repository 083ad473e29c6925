package keyterms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFiltersStopwords(t *testing.T) {
	terms := Extract("the the the cat sat on the mat", 3)

	assert.NotContains(t, terms, "the")
	assert.NotContains(t, terms, "on")
	assert.LessOrEqual(t, len(terms), 3)
	// All content words appear once, so first-seen order decides.
	assert.Equal(t, []string{"cat", "sat", "mat"}, terms)
}

func TestExtractRanksByFrequency(t *testing.T) {
	terms := Extract("python api python error api python", 0)

	assert.Equal(t, []string{"python", "api", "error"}, terms)
}

func TestExtractTiesBrokenByFirstSeen(t *testing.T) {
	terms := Extract("debug deploy debug deploy release", 3)

	assert.Equal(t, []string{"debug", "deploy", "release"}, terms)
}

func TestExtractStripsPunctuationAndCase(t *testing.T) {
	terms := Extract("Python! API? python, api; ERROR...", 0)

	assert.Equal(t, []string{"python", "api", "error"}, terms)
}

func TestExtractDropsShortTokens(t *testing.T) {
	terms := Extract("go is ok db sql database", 0)

	assert.NotContains(t, terms, "go")
	assert.NotContains(t, terms, "ok")
	assert.NotContains(t, terms, "db")
	assert.Contains(t, terms, "sql")
	assert.Contains(t, terms, "database")
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Empty(t, Extract("", 5))
	assert.Empty(t, Extract("   \t\n  ", 5))
	assert.Empty(t, Extract("the and with hello thanks", 5))
}

func TestExtractChatFillerFiltered(t *testing.T) {
	terms := Extract("hello thanks for the kubernetes deployment help", 0)

	assert.Equal(t, []string{"kubernetes", "deployment"}, terms)
}
