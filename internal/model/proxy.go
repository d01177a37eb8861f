// Package model defines shared types for the proxy.
package model

// InboundRequest represents a client request as received by the proxy.
// Cookies travel in the Cookie entries of Header.
type InboundRequest struct {
	Method   string
	Path     string // escaped form, leading slash included
	RawQuery string
	Header   HeaderList
	Body     []byte
}

// UpstreamRequest is the request sent to the derived target URL.
type UpstreamRequest struct {
	Method string
	URL    string
	Header HeaderList
	Body   []byte
}

// UpstreamResponse is the fully buffered response received from the target.
type UpstreamResponse struct {
	StatusCode int
	Header     HeaderList
	Body       []byte
}

// OutboundResponse is the response relayed back to the caller.
type OutboundResponse struct {
	StatusCode int
	Header     HeaderList
	Body       []byte
}
