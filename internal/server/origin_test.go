package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "http://localhost:8000", want: "http://localhost:8000", ok: true},
		{in: "HTTPS://Example.COM", want: "https://example.com", ok: true},
		{in: "localhost:8000", ok: false},
		{in: "/relative", ok: false},
		{in: "://bad", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := normalizeOrigin(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, zap.NewNop())

	assert.True(t, p.isAllowed(requestWithOrigin("http://anything.example")))
	assert.True(t, p.isAllowed(requestWithOrigin("")))
}

func TestOriginPolicyAllowList(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := newOriginPolicy([]string{" http://localhost:8000 ", "", "not-an-origin"}, zap.New(core))

	assert.Equal(t, 1, logs.FilterMessage("Ignoring invalid origin in configuration").Len())

	assert.True(t, p.checkOrigin(requestWithOrigin("http://localhost:8000")))
	assert.True(t, p.checkOrigin(requestWithOrigin("")))
	assert.False(t, p.checkOrigin(requestWithOrigin("http://localhost:9000")))
	assert.False(t, p.checkOrigin(requestWithOrigin("garbage")))

	assert.Equal(t, 2, logs.FilterMessage("Blocked WebSocket connection from disallowed origin").Len())
}
