package model

import (
	"net/http"
	"slices"
	"strings"
)

// Header is a single header field. Name keeps the casing it was received with.
type Header struct {
	Name  string
	Value string
}

// HeaderList is an ordered header collection. Duplicate names are allowed.
type HeaderList []Header

// Get returns the value of the first header matching name case-insensitively.
func (l HeaderList) Get(name string) string {
	for _, h := range l {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (l HeaderList) Values(name string) []string {
	var vals []string
	for _, h := range l {
		if strings.EqualFold(h.Name, name) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// Filter returns a new list holding the headers for which keep returns true.
// The receiver is not modified.
func (l HeaderList) Filter(keep func(Header) bool) HeaderList {
	out := make(HeaderList, 0, len(l))
	for _, h := range l {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}

// Without drops every header whose lowercased name is in names.
func (l HeaderList) Without(names map[string]bool) HeaderList {
	return l.Filter(func(h Header) bool {
		return !names[strings.ToLower(h.Name)]
	})
}

// FromHTTP converts an http.Header into a HeaderList. Map iteration order is
// random, so names are sorted to keep the result deterministic; values for a
// name keep their received order.
func FromHTTP(src http.Header) HeaderList {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(HeaderList, 0, len(src))
	for _, name := range names {
		for _, v := range src[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// ToHTTP converts the list into an http.Header without canonicalizing names,
// so the wire casing matches the list.
func (l HeaderList) ToHTTP() http.Header {
	dst := make(http.Header, len(l))
	for _, h := range l {
		dst[h.Name] = append(dst[h.Name], h.Value)
	}
	return dst
}
