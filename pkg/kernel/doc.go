// Package kernel implements the kernel session: the concurrent state
// machine that drives one live kernel process through execute, interrupt,
// restart and shutdown while streaming cell results back to the caller.
//
// A Session owns exactly one transport and one kernel process at a time.
// Executions are submitted sequentially; each produces an ordered stream of
// accumulated cell snapshots ending in a terminal Finished or Error cell.
// Interrupt and restart may race an in-flight execution; the session
// guarantees the race always resolves to a terminal cell state.
package kernel
