package domain

// CellKind distinguishes executable code from locally rendered markdown.
type CellKind string

const (
	CellKindCode     CellKind = "code"
	CellKindMarkdown CellKind = "markdown"
)

// CellState tracks the execution lifecycle of a single cell.
// Transitions are strictly forward: Unknown -> Init -> Executing -> terminal.
type CellState string

const (
	CellStateUnknown   CellState = "unknown"
	CellStateInit      CellState = "init"
	CellStateExecuting CellState = "executing"
	CellStateFinished  CellState = "finished"
	CellStateError     CellState = "error"
)

// Terminal reports whether the state admits no further mutation of the cell.
func (s CellState) Terminal() bool {
	return s == CellStateFinished || s == CellStateError
}

// MimeBundle maps a mime-type string to one rendering of an output value.
// Binary payloads (e.g. image/png) are carried base64-encoded.
type MimeBundle map[string]string

// OutputKind mirrors the categories of messages a kernel publishes while
// executing a cell.
type OutputKind string

const (
	OutputStream        OutputKind = "stream"
	OutputDisplayData   OutputKind = "display_data"
	OutputExecuteResult OutputKind = "execute_result"
	OutputError         OutputKind = "error"
)

// Output is one result record accumulated on a cell.
// Arrival order is significant and preserved.
type Output struct {
	Kind OutputKind `json:"kind"`

	// StreamName is "stdout" or "stderr" when Kind == OutputStream.
	StreamName string `json:"stream_name,omitempty"`

	// Data carries the mime renderings of the value.
	Data MimeBundle `json:"data,omitempty"`

	// Error details when Kind == OutputError.
	ErrorName  string   `json:"ename,omitempty"`
	ErrorValue string   `json:"evalue,omitempty"`
	Traceback  []string `json:"traceback,omitempty"`
}

// Clone returns a deep copy of the output.
func (o Output) Clone() Output {
	cp := o
	if o.Data != nil {
		cp.Data = make(MimeBundle, len(o.Data))
		for k, v := range o.Data {
			cp.Data[k] = v
		}
	}
	if o.Traceback != nil {
		cp.Traceback = append([]string(nil), o.Traceback...)
	}
	return cp
}

// Cell is one unit of submitted source plus its accumulated execution result.
// A cell maps to exactly one submitted source unit; it is never split or
// merged. Once State is terminal the cell must not be mutated again.
type Cell struct {
	ID   string   `json:"id"`
	Kind CellKind `json:"kind"`

	// Source is the submitted code (or markdown text).
	Source string `json:"source"`

	// File and Line locate the cell in its originating document.
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`

	State CellState `json:"state"`

	// ExecutionCount is the kernel-reported counter, set on completion.
	ExecutionCount int `json:"execution_count,omitempty"`

	// Outputs accumulate in kernel-emission order.
	Outputs []Output `json:"outputs,omitempty"`
}

// NewCell creates a cell in the Unknown state.
func NewCell(kind CellKind, source, file string, line int) *Cell {
	return &Cell{
		Kind:   kind,
		Source: source,
		File:   file,
		Line:   line,
		State:  CellStateUnknown,
	}
}

// Clone returns a deep copy of the cell, safe to retain while the original
// keeps accumulating outputs.
func (c *Cell) Clone() *Cell {
	cp := *c
	if c.Outputs != nil {
		cp.Outputs = make([]Output, len(c.Outputs))
		for i, o := range c.Outputs {
			cp.Outputs[i] = o.Clone()
		}
	}
	return &cp
}

// ErrorOutput returns the first error-kind output, or nil.
func (c *Cell) ErrorOutput() *Output {
	for i := range c.Outputs {
		if c.Outputs[i].Kind == OutputError {
			return &c.Outputs[i]
		}
	}
	return nil
}

// Text concatenates the textual renderings of all outputs, in arrival order.
// Useful for plain terminals and assertions; rich frontends should walk
// Outputs directly.
func (c *Cell) Text() string {
	var out string
	for _, o := range c.Outputs {
		switch o.Kind {
		case OutputError:
			out += o.ErrorName + ": " + o.ErrorValue
		default:
			if txt, ok := o.Data["text/plain"]; ok {
				out += txt
			}
		}
	}
	return out
}
