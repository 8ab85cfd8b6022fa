// Package session provides safe concurrent access to stored session
// records. A Manager serializes operations per session ID with
// reference-counted locks so records are never saved over each other.
package session
