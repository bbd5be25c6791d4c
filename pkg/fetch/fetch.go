// Package fetch defines the HTTP seam between this library and the network.
//
// Nothing in the resolver or the probe creates its own http.Client; they all
// go through a Doer supplied by the caller. Production wiring passes the
// resilient client from pkg/httpclient, tests pass in-memory fakes.
package fetch

import "net/http"

// Doer executes a single HTTP request. *http.Client satisfies it, as does
// pkg/httpclient.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do implements Doer.
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}
