// Package testutils provides in-process doubles for the kernel process and
// wire transport, so session behavior is testable without Python or ZeroMQ.
package testutils

import (
	"fmt"
	"strings"
	"sync"
)

// FakeKernel is a tiny scripted interpreter. It understands just enough
// to exercise the execution paths:
//
//	x = 1        assignment, no output
//	print(expr)  stream output on stdout
//	x            bare variable: execute_result, or NameError if unset
//	BLOCK        blocks until interrupted
//
// Variables live for the kernel's lifetime, so restart isolation is
// observable: a fresh FakeKernel has an empty namespace.
type FakeKernel struct {
	mu       sync.Mutex
	vars     map[string]string
	execHist int
}

// NewFakeKernel creates a kernel with an empty namespace.
func NewFakeKernel() *FakeKernel {
	return &FakeKernel{vars: make(map[string]string)}
}

// Result is the outcome of evaluating one code unit.
type Result struct {
	ExecutionCount int
	Stdout         string // stream output, empty if none
	Value          string // execute_result text/plain payload, empty if none
	ErrorName      string
	ErrorValue     string
	Blocks         bool // caller must wait for an interrupt
}

// Eval interprets the code and returns the scripted outcome.
func (k *FakeKernel) Eval(code string) Result {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.execHist++
	res := Result{ExecutionCount: k.execHist}
	code = strings.TrimSpace(code)

	switch {
	case code == "BLOCK":
		res.Blocks = true

	case strings.HasPrefix(code, "print(") && strings.HasSuffix(code, ")"):
		arg := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")")
		res.Stdout = k.resolve(arg) + "\n"

	case strings.Contains(code, "="):
		parts := strings.SplitN(code, "=", 2)
		name := strings.TrimSpace(parts[0])
		k.vars[name] = k.resolve(strings.TrimSpace(parts[1]))

	default:
		val, ok := k.vars[code]
		if !ok {
			if isLiteral(code) {
				res.Value = code
				return res
			}
			res.ErrorName = "NameError"
			res.ErrorValue = fmt.Sprintf("name '%s' is not defined", code)
			return res
		}
		res.Value = val
	}
	return res
}

// resolve evaluates an expression: a quoted string, a literal, or a
// variable lookup (unknown names pass through verbatim).
func (k *FakeKernel) resolve(expr string) string {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') {
		return expr[1 : len(expr)-1]
	}
	if val, ok := k.vars[expr]; ok {
		return val
	}
	return expr
}

func isLiteral(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
