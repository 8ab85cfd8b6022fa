package domain

import "errors"

// ErrNotSupported is returned when notebook execution is not available in
// the current environment. Capability probes report this as a plain false;
// dependent operations fail with this sentinel.
var ErrNotSupported = errors.New("notebook execution not supported")

// ErrNoUsableEnvironment is returned when no supplied environment passes
// the capability probe.
var ErrNoUsableEnvironment = errors.New("no usable environment found")

// ErrConnectionFailed is returned when a kernel process or its transport
// could not be established. Partially constructed resources are torn down
// before this error surfaces.
var ErrConnectionFailed = errors.New("kernel connection failed")

// ErrDisconnected is returned when the transport closes underneath an
// in-flight operation.
var ErrDisconnected = errors.New("kernel disconnected")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")
