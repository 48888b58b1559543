package treasury

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBridgeQuoteExpired(t *testing.T) {
	now := time.Now()
	quote := &BridgeQuote{FetchedAt: now, ValidFor: 60 * time.Second}

	assert.False(t, quote.Expired(now))
	assert.False(t, quote.Expired(now.Add(59*time.Second)))
	assert.True(t, quote.Expired(now.Add(61*time.Second)))
}

func TestBridgeQuoteNeverExpiresWithoutWindow(t *testing.T) {
	quote := &BridgeQuote{FetchedAt: time.Now().Add(-24 * time.Hour)}
	assert.False(t, quote.Expired(time.Now()))
}
