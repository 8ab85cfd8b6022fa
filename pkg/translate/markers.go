package translate

import (
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
)

// Cell markers in the percent format: "# %%" opens a code cell,
// "# %% [markdown]" a markdown cell whose lines are comment-prefixed.
const (
	codeMarker     = "# %%"
	markdownMarker = "# %% [markdown]"
	commentPrefix  = "# "
)

// FormatMarkers renders cells as marker-delimited source text.
func FormatMarkers(cells []domain.Cell) string {
	var sb strings.Builder
	for i, cell := range cells {
		if i > 0 {
			sb.WriteString("\n")
		}
		if cell.Kind == domain.CellKindMarkdown {
			sb.WriteString(markdownMarker + "\n")
			for _, line := range strings.Split(strings.TrimRight(cell.Source, "\n"), "\n") {
				if line == "" {
					sb.WriteString("#\n")
					continue
				}
				sb.WriteString(commentPrefix + line + "\n")
			}
		} else {
			sb.WriteString(codeMarker + "\n")
			sb.WriteString(strings.TrimRight(cell.Source, "\n") + "\n")
		}
	}
	return sb.String()
}

// ParseMarkers splits marker-delimited source text into cells. Content
// before the first marker becomes a leading code cell. Line numbers are
// recorded 1-based, pointing at the first content line of each cell.
func ParseMarkers(source, file string) []domain.Cell {
	lines := strings.Split(source, "\n")

	var cells []domain.Cell
	var current *domain.Cell
	var buf []string

	flush := func() {
		if current == nil {
			return
		}
		text := strings.TrimRight(strings.Join(buf, "\n"), "\n")
		if current.Kind == domain.CellKindMarkdown {
			text = stripCommentPrefix(text)
		}
		if strings.TrimSpace(text) != "" {
			current.Source = text
			cells = append(cells, *current)
		}
		current = nil
		buf = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == markdownMarker || strings.HasPrefix(trimmed, markdownMarker+" "):
			flush()
			current = domain.NewCell(domain.CellKindMarkdown, "", file, i+2)
		case trimmed == codeMarker || strings.HasPrefix(trimmed, codeMarker+" "):
			flush()
			current = domain.NewCell(domain.CellKindCode, "", file, i+2)
		default:
			if current == nil {
				// Content before the first marker is a leading code cell.
				current = domain.NewCell(domain.CellKindCode, "", file, i+1)
			}
			buf = append(buf, line)
		}
	}
	flush()
	return cells
}

func stripCommentPrefix(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, commentPrefix):
			out[i] = strings.TrimPrefix(line, commentPrefix)
		case strings.TrimSpace(line) == "#":
			out[i] = ""
		default:
			out[i] = line
		}
	}
	return strings.Join(out, "\n")
}
