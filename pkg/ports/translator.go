package ports

import "github.com/aretw0/kiln/pkg/domain"

// Translator converts between cell lists and the persisted notebook
// document format. The round trip must preserve cell boundaries and kinds:
// re-importing an exported document reproduces a marker-delimited source
// text with one recognizable block per original cell.
type Translator interface {
	// ToNotebook serializes cells into a persisted notebook document.
	ToNotebook(cells []domain.Cell) ([]byte, error)

	// FromNotebook parses a persisted notebook document into cells.
	FromNotebook(data []byte) ([]domain.Cell, error)

	// ImportFile reads a notebook file and returns its content as
	// marker-delimited source text.
	ImportFile(path string) (string, error)
}
