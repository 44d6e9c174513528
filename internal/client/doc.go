// Package client talks to a running pipeline server.
//
// Control requests go through resty on top of a retryablehttp transport,
// so a server that is still binding or briefly overloaded (502, 503, 429)
// is retried with backoff. Anything else, including 5xx from a failed
// pipeline start, is returned as an *APIError without retrying: starting
// a pipeline is not idempotent.
//
// Watch streams a pipeline or queue feed over WebSocket until the server
// closes it or the context ends.
package client
