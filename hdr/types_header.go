/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements an ordered, canonicalizing HTTP header map and
// a stable wire-format writer, adapted from badu-http's header package
// to back the response builder's canonicalization and the RFC 7230
// §3.2.2 stable-sort requirement on repeated header names.
package hdr

import (
	"io"
	"strings"
	"sync"
)

const toLower = 'a' - 'A'

// Header names the response builder and proxy resolver care about.
const (
	Connection       = "Connection"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Forwarded        = "Forwarded"
	Server           = "Server"
	TransferEncoding = "Transfer-Encoding"
	Via              = "Via"
	XForwardedBy     = "X-Forwarded-By"
	XForwardedFor    = "X-Forwarded-For"
	XForwardedHost   = "X-Forwarded-Host"
	XForwardedPort   = "X-Forwarded-Port"
	XForwardedProto  = "X-Forwarded-Proto"
)

var (
	// HeaderNewlineToSpace strips embedded CR/LF from header values before
	// they reach the wire.
	HeaderNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() interface{} { return new(headerSorter) },
	}

	// isTokenTable is a copy of net/http/lex.go's isTokenTable.
	// See https://httpwg.github.io/specs/rfc7230.html#rule.token.separators
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,

		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,

		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,

		'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
		'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
	}
)

type (
	// Header represents an HTTP header as an ordered-per-key multimap.
	// Values for a given canonical key preserve insertion order; that,
	// plus a stable sort by key at write time, is what satisfies the
	// "duplicates preserve relative order" invariant.
	Header map[string][]string

	writeStringer interface {
		WriteString(string) (int, error)
	}

	stringWriter struct {
		w io.Writer
	}

	keyValues struct {
		key    string
		values []string
	}

	// headerSorter implements sort.Interface, ordering solely by key so
	// that repeats of the same canonical key keep their relative order.
	headerSorter struct {
		kvs []keyValues
	}
)

func (s *headerSorter) Len() int      { return len(s.kvs) }
func (s *headerSorter) Swap(i, j int) { s.kvs[i], s.kvs[j] = s.kvs[j], s.kvs[i] }
func (s *headerSorter) Less(i, j int) bool {
	return s.kvs[i].key < s.kvs[j].key
}
