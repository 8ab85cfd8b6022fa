package protocol

import (
	"encoding/json"
	"strings"
)

// ExecuteRequest asks the kernel to execute one unit of code.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

// ExecuteReply is the shell-channel answer to an ExecuteRequest.
// Status is "ok", "error" or "aborted".
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	ErrorName      string   `json:"ename,omitempty"`
	ErrorValue     string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// StreamContent is one chunk of captured stdout/stderr text.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayDataContent carries a mime bundle published mid-execution.
type DisplayDataContent struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecuteResultContent is the final value of an execution, as a mime bundle.
type ExecuteResultContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ErrorContent reports a runtime error raised by executed code.
type ErrorContent struct {
	ErrorName  string   `json:"ename"`
	ErrorValue string   `json:"evalue"`
	Traceback  []string `json:"traceback,omitempty"`
}

// StatusContent announces a kernel execution-state transition on IOPub.
// ExecutionState is "busy", "idle" or "starting".
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// ShutdownContent requests (and acknowledges) a kernel shutdown.
type ShutdownContent struct {
	Restart bool `json:"restart"`
}

// KernelInfoReply is the subset of kernel_info_reply the engine cares about.
type KernelInfoReply struct {
	Status          string `json:"status"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Implementation  string `json:"implementation,omitempty"`
	Banner          string `json:"banner,omitempty"`
}

// Bundle normalizes a raw mime-data map into string payloads.
// Jupyter allows values to be strings, lists of line strings, or arbitrary
// JSON; lists are joined and everything else is re-marshalled.
func Bundle(data map[string]any) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for mime, v := range data {
		switch val := v.(type) {
		case string:
			out[mime] = val
		case []any:
			var sb strings.Builder
			for _, line := range val {
				if s, ok := line.(string); ok {
					sb.WriteString(s)
				}
			}
			out[mime] = sb.String()
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[mime] = string(raw)
		}
	}
	return out
}
