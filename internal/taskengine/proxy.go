package taskengine

import (
	"strings"

	"github.com/badu/taskengine/internal/errs"
)

// resolveProxyHeaders implements spec.md §4.7: it rewrites env's
// REMOTE_ADDR/REMOTE_PORT, wsgi.url_scheme, SERVER_NAME/SERVER_PORT
// and HTTP_HOST from either a single Forwarded header or the
// X-Forwarded-* family, whichever the request actually used.
func resolveProxyHeaders(t *Task, env Environment) error {
	req := t.Request
	forwarded := req.Header("FORWARDED")
	xForwardedFor := req.Header("X_FORWARDED_FOR")
	xForwardedHost := req.Header("X_FORWARDED_HOST")
	xForwardedProto := req.Header("X_FORWARDED_PROTO")
	xForwardedPort := req.Header("X_FORWARDED_PORT")
	xForwardedBy := req.Header("X_FORWARDED_BY")

	haveXForwarded := xForwardedFor != "" || xForwardedHost != "" || xForwardedProto != "" || xForwardedPort != "" || xForwardedBy != ""

	if forwarded != "" && haveXForwarded {
		if !t.loggedMultiProxyHeaders {
			t.loggedMultiProxyHeaders = true
			t.Log.Warn().Msg("taskengine: both Forwarded and X-Forwarded-* present, preferring Forwarded")
		}
		xForwardedFor, xForwardedHost, xForwardedProto, xForwardedPort = "", "", "", ""
	}

	var (
		clientAddr string
		host       string
		proto      string
		port       string
	)

	if forwarded != "" {
		params, err := parseForwarded(forwarded)
		if err != nil {
			return err
		}
		clientAddr = params.forField
		host = params.host
		proto = params.proto
		port = params.port
	} else {
		if xForwardedFor != "" {
			hops := splitForwardedFor(xForwardedFor)
			if len(hops) > 0 {
				clientAddr = hops[0]
			}
		}
		host = xForwardedHost
		proto = strings.ToLower(xForwardedProto)
		port = xForwardedPort
		_ = xForwardedBy
	}

	if proto != "" {
		if proto != "http" && proto != "https" {
			return errs.NewProxyHeaderError(errs.ErrInvalidProto, proto)
		}
		env["wsgi.url_scheme"] = proto
		if port == "" {
			if proto == "https" {
				port = "443"
			} else {
				port = "80"
			}
		}
	}

	if host != "" {
		h, hostPort, ok := splitHostPort(host)
		if ok {
			host = h
			port = hostPort
		}
		env["SERVER_NAME"] = host
		env["HTTP_HOST"] = host
	}

	if port != "" {
		env["SERVER_PORT"] = port
	}

	if clientAddr != "" {
		if addr, addrPort, ok := splitHostPort(clientAddr); ok {
			env["REMOTE_ADDR"] = addr
			env["REMOTE_PORT"] = addrPort
		} else {
			env["REMOTE_ADDR"] = clientAddr
		}
	}

	return nil
}

// splitForwardedFor splits an X-Forwarded-For value on commas, trims
// each hop, and brackets a bare IPv6 literal (spec.md §4.7).
func splitForwardedFor(v string) []string {
	parts := strings.Split(v, ",")
	hops := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		hops = append(hops, bracketIPv6(p))
	}
	return hops
}

// bracketIPv6 wraps a literal that looks like a bare IPv6 address (it
// contains ":" and doesn't already end in "]") in brackets.
func bracketIPv6(s string) string {
	if strings.Contains(s, ":") && !strings.HasSuffix(s, "]") {
		return "[" + s + "]"
	}
	return s
}

// splitHostPort splits "host:port" on the trailing colon, per the same
// IPv6-aware heuristic as bracketIPv6: a value containing ":" that
// does not end in "]" is treated as host:port.
func splitHostPort(s string) (host, port string, ok bool) {
	if !strings.Contains(s, ":") || strings.HasSuffix(s, "]") {
		return "", "", false
	}
	i := strings.LastIndex(s, ":")
	return s[:i], s[i+1:], true
}

type forwardedParams struct {
	by, forField, host, proto string
}

// parseForwarded implements spec.md §4.7's Forwarded grammar: ";"
// separated, case-insensitive keys among {by, for, host, proto}, with
// "for" itself comma-separated and optionally quoted. The first "for"
// element is the client address. This deliberately unquotes every
// comma-separated hop rather than replicating the source's suspected
// defect of reusing the whole parameter string (spec.md §9 open
// question).
func parseForwarded(v string) (forwardedParams, error) {
	var params forwardedParams
	var forSeen bool

	for _, param := range strings.Split(v, ";") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		eq := strings.IndexByte(param, '=')
		if eq < 0 {
			return forwardedParams{}, errs.NewProxyHeaderError(errs.ErrInvalidForwarded, param)
		}
		key := strings.ToLower(strings.TrimSpace(param[:eq]))
		value := strings.TrimSpace(param[eq+1:])

		switch key {
		case "by":
			params.by = unquote(value)
		case "for":
			if !forSeen {
				var hops []string
				for _, h := range strings.Split(value, ",") {
					h = strings.TrimSpace(h)
					if h == "" {
						continue
					}
					hops = append(hops, unquote(h))
				}
				if len(hops) == 0 {
					return forwardedParams{}, errs.NewProxyHeaderError(errs.ErrInvalidForwarded, value)
				}
				params.forField = hops[0]
				forSeen = true
			}
		case "host":
			params.host = unquote(value)
		case "proto":
			params.proto = strings.ToLower(unquote(value))
		}
	}

	if !forSeen {
		return forwardedParams{}, errs.NewProxyHeaderError(errs.ErrInvalidForwarded, v)
	}
	return params, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
