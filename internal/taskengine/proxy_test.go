package taskengine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProxyTask(headers map[string]string) *Task {
	ch := &fakeChannel{host: "10.0.0.1", port: "9999"}
	srv := &fakeServer{name: "internal", port: 8080, trusted: true}
	req := &Request{Version: "1.1", Method: "GET", Path: "/", Headers: headers}
	return newTask(ch, srv, req, testAdj(), zerolog.Nop())
}

// S5 — trusted proxy, RFC 7239 Forwarded with a pre-bracketed IPv6 for=.
func TestResolveProxyHeaders_S5(t *testing.T) {
	task := newProxyTask(map[string]string{
		"FORWARDED": `for="[2001:db8::1]:4711";proto=https;host=api.example:8443`,
	})
	env := Environment{}
	require.NoError(t, resolveProxyHeaders(task, env))

	assert.Equal(t, "[2001:db8::1]", env["REMOTE_ADDR"])
	assert.Equal(t, "4711", env["REMOTE_PORT"])
	assert.Equal(t, "https", env["wsgi.url_scheme"])
	assert.Equal(t, "api.example", env["SERVER_NAME"])
	assert.Equal(t, "8443", env["SERVER_PORT"])
	assert.Equal(t, "api.example", env["HTTP_HOST"])
}

func TestResolveProxyHeaders_XForwardedForBracketsBareIPv6(t *testing.T) {
	task := newProxyTask(map[string]string{
		"X_FORWARDED_FOR":   "2001:db8::2, 10.0.0.5",
		"X_FORWARDED_PROTO": "https",
		"X_FORWARDED_HOST":  "example.com",
	})
	env := Environment{}
	require.NoError(t, resolveProxyHeaders(task, env))

	assert.Equal(t, "[2001:db8::2]", env["REMOTE_ADDR"])
	assert.Equal(t, "https", env["wsgi.url_scheme"])
	assert.Equal(t, "443", env["SERVER_PORT"])
	assert.Equal(t, "example.com", env["SERVER_NAME"])
}

func TestResolveProxyHeaders_ForwardedTakesPrecedenceOverXForwarded(t *testing.T) {
	task := newProxyTask(map[string]string{
		"FORWARDED":         `for=192.0.2.1;proto=http`,
		"X_FORWARDED_FOR":   "198.51.100.1",
		"X_FORWARDED_PROTO": "https",
	})
	env := Environment{}
	require.NoError(t, resolveProxyHeaders(task, env))

	assert.Equal(t, "192.0.2.1", env["REMOTE_ADDR"])
	assert.Equal(t, "http", env["wsgi.url_scheme"])
	assert.True(t, task.loggedMultiProxyHeaders)
}

func TestResolveProxyHeaders_InvalidProtoFails(t *testing.T) {
	task := newProxyTask(map[string]string{
		"FORWARDED": `for=192.0.2.1;proto=ftp`,
	})
	env := Environment{}
	err := resolveProxyHeaders(task, env)
	require.Error(t, err)
}

func TestResolveProxyHeaders_MissingForFails(t *testing.T) {
	task := newProxyTask(map[string]string{
		"FORWARDED": `proto=https`,
	})
	env := Environment{}
	err := resolveProxyHeaders(task, env)
	require.Error(t, err)
}

func TestResolveProxyHeaders_QuotedCommaSeparatedForTakesFirstHop(t *testing.T) {
	task := newProxyTask(map[string]string{
		"FORWARDED": `for="192.0.2.1", for=198.51.100.2`,
	})
	env := Environment{}
	require.NoError(t, resolveProxyHeaders(task, env))
	assert.Equal(t, "192.0.2.1", env["REMOTE_ADDR"])
}

func TestResolveProxyHeaders_NoProxyHeadersLeavesPeerAddr(t *testing.T) {
	task := newProxyTask(nil)
	env := Environment{}
	require.NoError(t, resolveProxyHeaders(task, env))
	assert.Empty(t, env["REMOTE_ADDR"])
}

func TestSplitHostPort_IPv6BracketedIsNotSplit(t *testing.T) {
	host, port, ok := splitHostPort("[2001:db8::1]")
	assert.False(t, ok)
	assert.Empty(t, host)
	assert.Empty(t, port)
}

func TestBracketIPv6_LeavesAlreadyBracketed(t *testing.T) {
	assert.Equal(t, "[2001:db8::1]", bracketIPv6("[2001:db8::1]"))
	assert.Equal(t, "[2001:db8::1]", bracketIPv6("2001:db8::1"))
	assert.Equal(t, "10.0.0.1", bracketIPv6("10.0.0.1"))
}
