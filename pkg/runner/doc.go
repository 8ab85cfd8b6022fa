// Package runner drives a list of cells through a kernel session with
// terminal-friendly output, signal handling, and timeout escalation
// (interrupt first, restart when the kernel does not yield).
package runner
