// Package loopback measures audio round-trip latency. A session plays a
// periodic tone burst on an output stream, records an input stream and
// locates each burst in the recording. The Engine hands out opaque handles
// for sessions and exposes the init, processNext and destroy operations
// with int32 status codes, next to a Go API built on errors.
package loopback
