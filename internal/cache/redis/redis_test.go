package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySchema(t *testing.T) {
	assert.Equal(t, "arbsim:book:binance:BTCUSDT", bookKey("binance", "BTCUSDT"))
	assert.Equal(t, "arbsim:books:binance", bookIndexKey("binance"))
	assert.Equal(t, "arbsim:ratelimit:10.0.0.1", rateLimitKey("10.0.0.1"))
}

func TestStreamPayload(t *testing.T) {
	p, ok := streamPayload(map[string]any{"payload": "abc"})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), p)

	p, ok = streamPayload(map[string]any{"payload": []byte("xyz")})
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), p)

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
