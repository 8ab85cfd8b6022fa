// Package kiln drives external Jupyter-style kernels: it discovers usable
// runtime environments, probes their capabilities, spawns and connects to
// kernel processes, executes code cells with ordered streaming snapshots,
// and translates cell lists to and from notebook documents.
//
// The Engine is the high-level entry point. Connect yields a kernel
// session; everything underneath (process launching, ZeroMQ transport,
// wire protocol) is replaceable through options, which is also how the
// test suite runs without a Python installation.
package kiln
