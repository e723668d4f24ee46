// Package client speaks the Fides storage protocol.
//
// # Overview
//
// Conn wraps one connection to the server. Requests are strictly
// sequential: each call writes one request frame (plus a content stream for
// uploads and updates) and reads exactly one response (plus a content stream
// for successful downloads). Conn is not safe for concurrent use.
//
// # Error Handling
//
// Transport failures are returned as they occur and leave the Conn
// unusable. A request the server rejects yields a *ServerError whose
// message is one of the protocol's fixed strings; it matches the sentinel
// errors below with errors.Is: ErrUnauthorized, ErrBusy, ErrUserExists,
// ErrNotFound, ErrQuotaExceeded, ErrNotLoggedIn.
//
// # Contexts
//
// A context deadline becomes the connection deadline for the duration of
// the call, and cancelling the context aborts a blocked read or write.
package client
