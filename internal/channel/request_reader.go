package channel

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/badu/taskengine/internal/settings"
	"github.com/badu/taskengine/internal/taskengine"
)

// readRequest parses one HTTP/1.x request-line-plus-headers block off
// r, standing in for the spec's external "HTTP request parser"
// collaborator (SPEC_FULL.md §4.9). A malformed request line or header
// block, or a declared body that exceeds MaxRequestBodySize, produces
// a Request carrying a non-nil Error rather than a Go error; only a
// clean connection-close before any bytes, or an empty request line,
// returns io.EOF.
func readRequest(r *bufio.Reader, adj *settings.Settings) (*taskengine.Request, error) {
	line, err := readLimitedLine(r, adj.MaxRequestHeaderSize)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return parseErrorRequest(414, "Request-URI Too Long", "request line too long"), nil
	}
	if line == "" {
		return nil, io.EOF
	}

	method, target, version, ok := parseRequestLine(line)
	if !ok {
		return parseErrorRequest(400, "Bad Request", "malformed request line"), nil
	}

	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}

	headers := make(map[string]string)
	budget := adj.MaxRequestHeaderSize - len(line)
	for {
		hline, herr := readLimitedLine(r, budget)
		if herr != nil {
			return parseErrorRequest(400, "Bad Request", "header block too large or malformed"), nil
		}
		if hline == "" {
			break
		}
		budget -= len(hline)
		name, value, ok := parseHeaderLine(hline)
		if !ok {
			return parseErrorRequest(400, "Bad Request", "malformed header line"), nil
		}
		key := toUpperSnake(name)
		if _, exists := headers[key]; !exists {
			headers[key] = value
		}
	}

	body, bodyErr := makeBodyReader(r, headers, adj.MaxRequestBodySize)
	if bodyErr != nil {
		return parseErrorRequest(400, "Bad Request", bodyErr.Error()), nil
	}

	return &taskengine.Request{
		Version:   version,
		Method:    method,
		Path:      path,
		Query:     query,
		URLScheme: adj.URLScheme,
		Headers:   headers,
		Body:      body,
	}, nil
}

func parseErrorRequest(code int, reason, body string) *taskengine.Request {
	return &taskengine.Request{
		Error: &taskengine.RequestError{Code: code, Reason: reason, Body: body},
	}
}

// readLimitedLine reads a single CRLF- or LF-terminated line, without
// the terminator, failing if more than limit bytes are consumed first.
func readLimitedLine(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)
		if len(buf) > limit {
			return "", errTooLarge
		}
		if !isPrefix {
			break
		}
	}
	return string(buf), nil
}

var errTooLarge = io.ErrShortBuffer

func parseRequestLine(line string) (method, target, version string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return "", "", "", false
	}
	return parts[0], parts[1], strings.TrimPrefix(parts[2], "HTTP/"), true
}

func parseHeaderLine(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	return line[:i], strings.TrimSpace(line[i+1:]), true
}

// toUpperSnake turns a wire header name into the parser's UPPER_SNAKE
// convention, leaving CONTENT_LENGTH/CONTENT_TYPE unprefixed (those
// are already bare by construction since "-" becomes "_" uniformly;
// callers compare against the preserved-name set directly).
func toUpperSnake(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-':
			b[i] = '_'
		case 'a' <= c && c <= 'z':
			b[i] = c - ('a' - 'A')
		default:
			b[i] = c
		}
	}
	return string(b)
}

// makeBodyReader dechunks a Transfer-Encoding: chunked body or, failing
// that, bounds the request body by a declared Content-Length; with
// neither, the body is empty.
// Decoding the transfer coding is explicitly a parser concern, not a
// core-engine one (core non-goal: "body decoding").
func makeBodyReader(r *bufio.Reader, headers map[string]string, maxBody int) (io.Reader, error) {
	if te := headers["TRANSFER_ENCODING"]; strings.EqualFold(te, "chunked") {
		return &chunkedBodyReader{r: r}, nil
	}
	if cl, ok := headers["CONTENT_LENGTH"]; ok && cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, errBadContentLength
		}
		if maxBody > 0 && n > int64(maxBody) {
			return nil, errBodyTooLarge
		}
		return io.LimitReader(r, n), nil
	}
	return io.LimitReader(r, 0), nil
}

var (
	errBadContentLength = strconvErr("invalid Content-Length")
	errBodyTooLarge     = strconvErr("declared body exceeds max_request_body_size")
)

type strconvErr string

func (e strconvErr) Error() string { return string(e) }

// chunkedBodyReader dechunks an HTTP/1.1 "Transfer-Encoding: chunked"
// body into a plain EOF-terminated byte stream.
type chunkedBodyReader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
}

func (c *chunkedBodyReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remaining == 0 {
		sizeLine, err := readLimitedLine(c.r, 64)
		if err != nil {
			return 0, err
		}
		if i := strings.IndexByte(sizeLine, ';'); i >= 0 {
			sizeLine = sizeLine[:i]
		}
		n, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return 0, errBadContentLength
		}
		if n == 0 {
			// Trailer block, terminated by a blank line.
			for {
				l, err := readLimitedLine(c.r, 4096)
				if err != nil {
					return 0, err
				}
				if l == "" {
					break
				}
			}
			c.done = true
			return 0, io.EOF
		}
		c.remaining = n
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err != nil {
		return n, err
	}
	if c.remaining == 0 {
		// Consume the chunk's trailing CRLF.
		if _, err := readLimitedLine(c.r, 2); err != nil {
			return n, err
		}
	}
	return n, nil
}
