package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/path", "example.com"},
		{"example.com/path", "example.com"},
		{"http://sub.example.com:8080/", "sub.example.com"},
		{"", "unknown"},
		{"://", "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SanitizeSite(tt.in), tt.in)
	}
}

func TestObserversAfterInit(t *testing.T) {
	Init()
	require.NotPanics(t, func() {
		ObserveProxyPage("https://example.com/", "ok")
		ObserveUpstream("page", 120*time.Millisecond)
		ObserveSave("ok")
		ObserveHTTPRequest("GET", "/api/state", 200, 5*time.Millisecond)
	})
}
