package taskengine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath_CollapsesLeadingSlashes(t *testing.T) {
	assert.Equal(t, "/a/b", normalizePath("///a/b"))
	assert.Equal(t, "/", normalizePath("/"))
	assert.Equal(t, "relative", normalizePath("relative"))
}

func TestSplitScriptPath_NoPrefix(t *testing.T) {
	script, path := splitScriptPath("/a/b", "")
	assert.Empty(t, script)
	assert.Equal(t, "/a/b", path)
}

func TestSplitScriptPath_ExactMatch(t *testing.T) {
	script, path := splitScriptPath("/app", "/app")
	assert.Equal(t, "/app", script)
	assert.Empty(t, path)
}

func TestSplitScriptPath_PrefixedMatch(t *testing.T) {
	script, path := splitScriptPath("/app/users/1", "/app")
	assert.Equal(t, "/app", script)
	assert.Equal(t, "/users/1", path)
}

func TestSplitScriptPath_NonMatchingPrefixFallsThrough(t *testing.T) {
	script, path := splitScriptPath("/other", "/app")
	assert.Empty(t, script)
	assert.Equal(t, "/other", path)
}

func TestBuildEnvironment_HeaderPrefixingAndPreservedNames(t *testing.T) {
	ch := &fakeChannel{host: "203.0.113.9", port: "51000"}
	srv := &fakeServer{name: "localhost", port: 8080}
	req := &Request{
		Version: "1.1",
		Method:  "post",
		Path:    "/widgets",
		Query:   "id=1",
		Headers: map[string]string{
			"CONTENT_LENGTH": "4",
			"CONTENT_TYPE":   "application/json",
			"HOST":           "example.com",
			"X_CUSTOM":       "v",
		},
	}
	task := newTask(ch, srv, req, testAdj(), zerolog.Nop())

	env, err := buildEnvironment(task)
	require.NoError(t, err)

	assert.Equal(t, "POST", env["REQUEST_METHOD"])
	assert.Equal(t, "/widgets", env["PATH_INFO"])
	assert.Equal(t, "id=1", env["QUERY_STRING"])
	assert.Equal(t, "4", env["CONTENT_LENGTH"])
	assert.Equal(t, "application/json", env["CONTENT_TYPE"])
	assert.Equal(t, "example.com", env["HTTP_HOST"])
	assert.Equal(t, "v", env["HTTP_X_CUSTOM"])
	assert.Equal(t, "203.0.113.9", env["REMOTE_ADDR"])
	assert.Equal(t, "51000", env["REMOTE_PORT"])
	assert.Equal(t, "http", env["wsgi.url_scheme"])
}

func TestBuildEnvironment_UntrustedPeerSkipsProxyResolution(t *testing.T) {
	ch := &fakeChannel{host: "198.51.100.2", port: "4000"}
	srv := &fakeServer{name: "localhost", port: 8080, trusted: false}
	adj := testAdj()
	adj.TrustedProxy = "10.0.0.1"
	req := &Request{
		Version: "1.1",
		Method:  "GET",
		Path:    "/",
		Headers: map[string]string{"X_FORWARDED_FOR": "203.0.113.5"},
	}
	task := newTask(ch, srv, req, adj, zerolog.Nop())

	env, err := buildEnvironment(task)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.2", env["REMOTE_ADDR"])
	assert.Equal(t, "4000", env["REMOTE_PORT"])
}

func TestBuildEnvironment_TrustedPeerByAddressResolvesProxyHeaders(t *testing.T) {
	ch := &fakeChannel{host: "10.0.0.1", port: "4000"}
	srv := &fakeServer{name: "localhost", port: 8080, trusted: false}
	adj := testAdj()
	adj.TrustedProxy = "10.0.0.1"
	req := &Request{
		Version: "1.1",
		Method:  "GET",
		Path:    "/",
		Headers: map[string]string{"X_FORWARDED_FOR": "203.0.113.5", "X_FORWARDED_PROTO": "https"},
	}
	task := newTask(ch, srv, req, adj, zerolog.Nop())

	env, err := buildEnvironment(task)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", env["REMOTE_ADDR"])
	assert.Equal(t, "https", env["wsgi.url_scheme"])
}

func TestBuildEnvironment_MalformedProxyHeaderReturnsError(t *testing.T) {
	ch := &fakeChannel{host: "10.0.0.1", port: "4000"}
	srv := &fakeServer{name: "localhost", port: 8080, trusted: true}
	req := &Request{
		Version: "1.1",
		Method:  "GET",
		Path:    "/",
		Headers: map[string]string{"FORWARDED": "proto=https"},
	}
	task := newTask(ch, srv, req, testAdj(), zerolog.Nop())

	_, err := buildEnvironment(task)
	require.Error(t, err)
}

func TestWsgiExecute_ProxyHeaderFailureRendersFiveHundred(t *testing.T) {
	ch := &fakeChannel{host: "10.0.0.1", port: "4000"}
	srv := &fakeServer{name: "localhost", port: 8080, trusted: true}
	req := &Request{
		Version: "1.1",
		Method:  "GET",
		Path:    "/",
		Headers: map[string]string{"FORWARDED": "proto=https"},
	}
	var appCalled bool
	app := func(env Environment, start StartResponseFunc) (interface{}, error) {
		appCalled = true
		return nil, nil
	}
	task := NewWSGITask(ch, srv, req, testAdj(), zerolog.Nop(), app)
	require.NoError(t, task.Service())

	assert.False(t, appCalled)
	out := string(ch.body())
	assert.Contains(t, out, "500")
	assert.True(t, task.CloseOnFinish)
}
