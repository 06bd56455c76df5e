package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUninitializedIsNoOp(t *testing.T) {
	mu.Lock()
	root = nil
	loggers = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()

	// Must not panic before Initialize.
	assert.NotPanics(t, func() {
		Engine("graph run started")
		SearchWarn("provider returned %d results", 0)
	})
	assert.Nil(t, Get(CategoryEngine))
}

func TestInitializeAndGet(t *testing.T) {
	require.NoError(t, Initialize("debug", true))
	defer Sync()

	l := Get(CategoryScraper)
	require.NotNil(t, l)
	// Same category resolves to the same named logger.
	assert.Same(t, l, Get(CategoryScraper))

	assert.NotPanics(t, func() {
		Scraper("fetched %d/%d urls", 3, 5)
		LLMError("primary attempt failed: %v", assert.AnError)
	})
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"":        "info",
		"debug":   "debug",
		"WARN":    "warn",
		"warning": "warn",
		"error":   "error",
	} {
		lvl, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, lvl.String(), in)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
}
