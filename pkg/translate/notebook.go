// Package translate implements the translation facade: cell lists to and
// from nbformat-4 notebook documents, and the percent cell-marker text
// format used for imported sources. Round trips preserve cell boundaries
// and kinds.
package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
)

const (
	nbFormat      = 4
	nbFormatMinor = 5
)

// Translator implements ports.Translator.
type Translator struct{}

// New creates a translator.
func New() *Translator {
	return &Translator{}
}

// notebook is the on-disk document shape. The schema is owned by the
// nbformat project; only the parts the engine round-trips are modeled.
type notebook struct {
	Cells         []nbCell       `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

type nbCell struct {
	CellType       string         `json:"cell_type"`
	Source         []string       `json:"source"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []nbOutput     `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

type nbOutput struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name,omitempty"`
	Text           []string       `json:"text,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	ErrorName      string         `json:"ename,omitempty"`
	ErrorValue     string         `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
}

// ToNotebook serializes cells into an nbformat-4 JSON document.
func (t *Translator) ToNotebook(cells []domain.Cell) ([]byte, error) {
	doc := notebook{
		Cells:         make([]nbCell, 0, len(cells)),
		Metadata:      map[string]any{},
		NBFormat:      nbFormat,
		NBFormatMinor: nbFormatMinor,
	}

	for _, cell := range cells {
		nc := nbCell{
			Source:   splitLines(cell.Source),
			Metadata: map[string]any{},
		}
		switch cell.Kind {
		case domain.CellKindMarkdown:
			nc.CellType = "markdown"
		default:
			nc.CellType = "code"
			nc.Outputs = make([]nbOutput, 0, len(cell.Outputs))
			if cell.ExecutionCount > 0 {
				count := cell.ExecutionCount
				nc.ExecutionCount = &count
			}
			for _, out := range cell.Outputs {
				nc.Outputs = append(nc.Outputs, outputToNB(out, nc.ExecutionCount))
			}
		}
		doc.Cells = append(doc.Cells, nc)
	}

	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return nil, fmt.Errorf("marshalling notebook: %w", err)
	}
	return data, nil
}

// FromNotebook parses an nbformat-4 JSON document into cells.
func (t *Translator) FromNotebook(data []byte) ([]domain.Cell, error) {
	var doc notebook
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing notebook: %w", err)
	}
	if doc.NBFormat != nbFormat {
		return nil, fmt.Errorf("unsupported notebook format version %d", doc.NBFormat)
	}

	cells := make([]domain.Cell, 0, len(doc.Cells))
	for _, nc := range doc.Cells {
		cell := domain.Cell{
			Source: strings.Join(nc.Source, ""),
		}
		switch nc.CellType {
		case "markdown":
			cell.Kind = domain.CellKindMarkdown
		case "code":
			cell.Kind = domain.CellKindCode
			if nc.ExecutionCount != nil {
				cell.ExecutionCount = *nc.ExecutionCount
			}
			for _, out := range nc.Outputs {
				cell.Outputs = append(cell.Outputs, outputFromNB(out))
			}
		default:
			// Raw and unknown cell types are carried as markdown so no
			// content is lost on round trip.
			cell.Kind = domain.CellKindMarkdown
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

// ImportFile reads a notebook file and returns marker-delimited source
// text: one recognizable block per original cell.
func (t *Translator) ImportFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading notebook file: %w", err)
	}
	cells, err := t.FromNotebook(data)
	if err != nil {
		return "", err
	}
	return FormatMarkers(cells), nil
}

func outputToNB(out domain.Output, execCount *int) nbOutput {
	switch out.Kind {
	case domain.OutputStream:
		return nbOutput{
			OutputType: "stream",
			Name:       out.StreamName,
			Text:       splitLines(out.Data["text/plain"]),
		}
	case domain.OutputError:
		return nbOutput{
			OutputType: "error",
			ErrorName:  out.ErrorName,
			ErrorValue: out.ErrorValue,
			Traceback:  out.Traceback,
		}
	case domain.OutputExecuteResult:
		return nbOutput{
			OutputType:     "execute_result",
			Data:           bundleToNB(out.Data),
			Metadata:       map[string]any{},
			ExecutionCount: execCount,
		}
	default:
		return nbOutput{
			OutputType: "display_data",
			Data:       bundleToNB(out.Data),
			Metadata:   map[string]any{},
		}
	}
}

func outputFromNB(out nbOutput) domain.Output {
	switch out.OutputType {
	case "stream":
		return domain.Output{
			Kind:       domain.OutputStream,
			StreamName: out.Name,
			Data:       domain.MimeBundle{"text/plain": strings.Join(out.Text, "")},
		}
	case "error":
		return domain.Output{
			Kind:       domain.OutputError,
			ErrorName:  out.ErrorName,
			ErrorValue: out.ErrorValue,
			Traceback:  out.Traceback,
		}
	case "execute_result":
		return domain.Output{
			Kind: domain.OutputExecuteResult,
			Data: bundleFromNB(out.Data),
		}
	default:
		return domain.Output{
			Kind: domain.OutputDisplayData,
			Data: bundleFromNB(out.Data),
		}
	}
}

func bundleToNB(bundle domain.MimeBundle) map[string]any {
	out := make(map[string]any, len(bundle))
	for mime, payload := range bundle {
		out[mime] = splitLines(payload)
	}
	return out
}

func bundleFromNB(data map[string]any) domain.MimeBundle {
	bundle := make(domain.MimeBundle, len(data))
	for mime, v := range data {
		switch val := v.(type) {
		case string:
			bundle[mime] = val
		case []any:
			var sb strings.Builder
			for _, line := range val {
				if s, ok := line.(string); ok {
					sb.WriteString(s)
				}
			}
			bundle[mime] = sb.String()
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			bundle[mime] = string(raw)
		}
	}
	return bundle
}

// splitLines breaks text into the line-list shape nbformat prefers,
// keeping trailing newlines attached to their lines.
func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
