// Package multiplex implements a protocol-agnostic engine for driving a
// bidirectional, frame-based transport that carries many concurrent
// request/response exchanges identified by a RequestID, each of which may
// additionally stream a body in either direction.
//
// The package does not know how frames are encoded on the wire (that's the
// Transport's job, supplied by the caller) or how responses are computed
// (that's the Dispatch's job, also supplied by the caller). Multiplex only
// coordinates interleaved frame I/O, per-exchange body backpressure, and
// orderly teardown between the two. See SPEC_FULL.md for the full design.
package multiplex

// RequestID identifies one request/response exchange. The dispatcher treats
// it as an opaque, unordered map key — it never compares, orders, or
// interprets two distinct RequestIDs against each other.
type RequestID uint64
