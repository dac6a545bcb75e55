package channel

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/taskengine/internal/settings"
)

func adjForReader() *settings.Settings {
	adj := settings.Default()
	adj.MaxRequestHeaderSize = 8192
	adj.MaxRequestBodySize = 1 << 20
	return adj
}

func TestReadRequest_SimpleGET(t *testing.T) {
	raw := "GET /widgets?id=1 HTTP/1.1\r\nHost: example.com\r\nX-Custom: v\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.Nil(t, req.Error)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/widgets", req.Path)
	assert.Equal(t, "id=1", req.Query)
	assert.Equal(t, "1.1", req.Version)
	assert.Equal(t, "example.com", req.Headers["HOST"])
	assert.Equal(t, "v", req.Headers["X_CUSTOM"])
}

func TestReadRequest_EOFOnEmptyConnection(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	_, err := readRequest(r, adjForReader())
	assert.Equal(t, io.EOF, err)
}

func TestReadRequest_MalformedRequestLineProducesRequestError(t *testing.T) {
	raw := "NOT A REQUEST LINE\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.NotNil(t, req.Error)
	assert.Equal(t, 400, req.Error.Code)
}

func TestReadRequest_MalformedHeaderLineProducesRequestError(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nBadHeaderNoColon\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.NotNil(t, req.Error)
	assert.Equal(t, 400, req.Error.Code)
}

func TestReadRequest_ContentLengthBoundedBody(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nContent-Length: 5\r\n\r\nhelloEXTRA"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.Nil(t, req.Error)

	body, readErr := io.ReadAll(req.Body)
	require.NoError(t, readErr)
	assert.Equal(t, "hello", string(body))
}

func TestReadRequest_BodyExceedingMaxIsRejected(t *testing.T) {
	adj := adjForReader()
	adj.MaxRequestBodySize = 4
	raw := "POST /items HTTP/1.1\r\nContent-Length: 100\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adj)
	require.NoError(t, err)
	require.NotNil(t, req.Error)
	assert.Equal(t, 400, req.Error.Code)
}

func TestReadRequest_ChunkedBodyIsDechunked(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.Nil(t, req.Error)

	body, readErr := io.ReadAll(req.Body)
	require.NoError(t, readErr)
	assert.Equal(t, "Wikipedia", string(body))
}

func TestReadRequest_NoBodyHeadersYieldsEmptyBody(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	req, err := readRequest(r, adjForReader())
	require.NoError(t, err)
	require.Nil(t, req.Error)

	body, readErr := io.ReadAll(req.Body)
	require.NoError(t, readErr)
	assert.Empty(t, body)
}

func TestToUpperSnake(t *testing.T) {
	assert.Equal(t, "X_FORWARDED_FOR", toUpperSnake("X-Forwarded-For"))
	assert.Equal(t, "HOST", toUpperSnake("host"))
}

func TestParseRequestLine(t *testing.T) {
	method, target, version, ok := parseRequestLine("GET /a/b HTTP/1.1")
	require.True(t, ok)
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/a/b", target)
	assert.Equal(t, "1.1", version)

	_, _, _, ok = parseRequestLine("GET only-two-fields")
	assert.False(t, ok)
}

func TestParseHeaderLine(t *testing.T) {
	name, value, ok := parseHeaderLine("Content-Type: text/plain")
	require.True(t, ok)
	assert.Equal(t, "Content-Type", name)
	assert.Equal(t, "text/plain", value)

	_, _, ok = parseHeaderLine("no colon here")
	assert.False(t, ok)
}
