package taskengine

import (
	"strconv"
	"time"

	"github.com/badu/taskengine/hdr"
)

// rfc1123GMT matches net/http's TimeFormat: RFC 1123 with a literal GMT
// zone name rather than the local abbreviation.
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// bodyAllowedForStatus reports whether status (the exact "<code>
// <reason>" or "<code>" text a task sets) permits a response body: it
// does not iff the code starts with 1, or is 204 or 304.
func bodyAllowedForStatus(status string) bool {
	switch {
	case len(status) == 0:
		return true
	case status[0] == '1':
		return false
	case len(status) >= 3 && status[:3] == "204":
		return false
	case len(status) >= 3 && status[:3] == "304":
		return false
	}
	return true
}

// buildResponse is the pure function of spec.md §4.3: from the task's
// raw (possibly duplicate, order-preserving) response headers plus
// protocol context, it produces the serialised prologue bytes and the
// three lifecycle facts the caller must fold back into the task
// (closeOnFinish, chunked, and a possibly-synthesised content length).
//
// forceClose is set only by ErrorTask (spec.md §4.5), which closes the
// connection unconditionally but only *announces* Connection: close
// for HTTP/1.0 or an HTTP/1.1 request that itself asked to close,
// rather than running the full keep-alive/chunked decision table.
func buildResponse(version, reqConnection string, rawHeaders [][2]string, status string, contentLength *int64, ident string, start time.Time, forceClose bool) (prologue []byte, closeOnFinish, chunked bool, synthesized *int64) {
	has := bodyAllowedForStatus(status)

	h := make(hdr.Header, len(rawHeaders)+4)
	for _, kv := range rawHeaders {
		h.Add(kv[0], kv[1])
	}
	if !has {
		h.Del(hdr.ContentLength)
	}

	suppliedCL := h.Get(hdr.ContentLength) != ""
	if !suppliedCL && has && contentLength != nil {
		h.Set(hdr.ContentLength, strconv.FormatInt(*contentLength, 10))
		suppliedCL = true
		synthesized = contentLength
	}

	reqWantsClose := hdr.HasToken(reqConnection, "close")
	reqWantsKeepAlive := hdr.HasToken(reqConnection, "keep-alive")

	is11 := version == "1.1"
	switch {
	case forceClose && !is11:
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	case forceClose && reqWantsClose:
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	case forceClose:
		closeOnFinish = true // 1.1, request didn't ask to close: no header announced, still closes.
	case !is11 && reqWantsKeepAlive && suppliedCL:
		h.Set(hdr.Connection, "Keep-Alive")
	case !is11 && reqWantsKeepAlive && !suppliedCL:
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	case !is11:
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	case is11 && reqWantsClose:
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	case is11 && suppliedCL:
		// keep open; no Connection header needed.
	case is11 && has:
		h.Set(hdr.TransferEncoding, "chunked")
		chunked = true
	default: // is11, no supplied length, no body allowed
		h.Set(hdr.Connection, "close")
		closeOnFinish = true
	}

	if h.Get(hdr.Server) == "" {
		if ident != "" {
			h.Set(hdr.Server, ident)
		}
	} else {
		via := ident
		if via == "" {
			via = "waitress"
		}
		h.Add(hdr.Via, via)
	}

	if h.Get(hdr.Date) == "" {
		h.Set(hdr.Date, start.UTC().Format(rfc1123GMT))
	}

	var buf []byte
	buf = append(buf, "HTTP/"...)
	buf = append(buf, version...)
	buf = append(buf, ' ')
	buf = append(buf, status...)
	buf = append(buf, "\r\n"...)

	var sb sliceWriter
	_ = h.Write(&sb)
	buf = append(buf, sb.buf...)
	buf = append(buf, "\r\n"...)

	return buf, closeOnFinish, chunked, synthesized
}

// sliceWriter adapts a growable []byte to io.Writer for hdr.Header.Write.
type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
