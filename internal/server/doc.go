// Package server hosts the Fiber HTTP surface in front of the image loader.
// It owns the request-id middleware, the /image endpoint that resolves a
// locator through memory, disk and fetch layers, and the mapping from
// failure kinds to HTTP status codes. Diagnostics endpoints live in the
// routes subpackage and are attached by the CLI after NewApp returns.
package server
