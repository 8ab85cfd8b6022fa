package translate_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkers_SplitsCells(t *testing.T) {
	source := `# %%
x = 1

# %% [markdown]
# # Title
# Some *prose*.

# %%
print(x)
`
	cells := translate.ParseMarkers(source, "demo.py")
	require.Len(t, cells, 3)

	assert.Equal(t, domain.CellKindCode, cells[0].Kind)
	assert.Equal(t, "x = 1", cells[0].Source)
	assert.Equal(t, "demo.py", cells[0].File)

	assert.Equal(t, domain.CellKindMarkdown, cells[1].Kind)
	assert.Equal(t, "# Title\nSome *prose*.", cells[1].Source)

	assert.Equal(t, domain.CellKindCode, cells[2].Kind)
	assert.Equal(t, "print(x)", cells[2].Source)
}

func TestParseMarkers_LeadingCodeWithoutMarker(t *testing.T) {
	cells := translate.ParseMarkers("import os\n\n# %%\nprint(1)\n", "f.py")
	require.Len(t, cells, 2)
	assert.Equal(t, "import os", cells[0].Source)
	assert.Equal(t, 1, cells[0].Line)
}

func TestParseMarkers_SkipsEmptyCells(t *testing.T) {
	cells := translate.ParseMarkers("# %%\n\n# %%\nx = 1\n", "f.py")
	require.Len(t, cells, 1)
	assert.Equal(t, "x = 1", cells[0].Source)
}

func TestFormatMarkers_RoundTrip(t *testing.T) {
	original := []domain.Cell{
		{Kind: domain.CellKindCode, Source: "x = 1\nprint(x)"},
		{Kind: domain.CellKindMarkdown, Source: "# Header\n\nbody text"},
		{Kind: domain.CellKindCode, Source: "x + 1"},
	}

	text := translate.FormatMarkers(original)
	parsed := translate.ParseMarkers(text, "")

	require.Len(t, parsed, len(original))
	for i := range original {
		assert.Equal(t, original[i].Kind, parsed[i].Kind, "cell %d kind", i)
		assert.Equal(t, original[i].Source, parsed[i].Source, "cell %d source", i)
	}
}

func TestNotebook_RoundTrip(t *testing.T) {
	tr := translate.New()
	count := 2
	cells := []domain.Cell{
		{
			Kind:           domain.CellKindCode,
			Source:         "print('hi')\nx = 3",
			State:          domain.CellStateFinished,
			ExecutionCount: count,
			Outputs: []domain.Output{
				{Kind: domain.OutputStream, StreamName: "stdout", Data: domain.MimeBundle{"text/plain": "hi\n"}},
				{Kind: domain.OutputExecuteResult, Data: domain.MimeBundle{"text/plain": "3"}},
			},
		},
		{Kind: domain.CellKindMarkdown, Source: "## Notes\nmulti-line"},
		{
			Kind:   domain.CellKindCode,
			Source: "boom",
			State:  domain.CellStateError,
			Outputs: []domain.Output{
				{Kind: domain.OutputError, ErrorName: "ValueError", ErrorValue: "boom", Traceback: []string{"Traceback", "ValueError: boom"}},
			},
		},
	}

	data, err := tr.ToNotebook(cells)
	require.NoError(t, err)

	// The document is valid nbformat 4.
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.EqualValues(t, 4, doc["nbformat"])

	back, err := tr.FromNotebook(data)
	require.NoError(t, err)
	require.Len(t, back, len(cells))

	assert.Equal(t, cells[0].Source, back[0].Source)
	assert.Equal(t, count, back[0].ExecutionCount)
	require.Len(t, back[0].Outputs, 2)
	assert.Equal(t, "hi\n", back[0].Outputs[0].Data["text/plain"])
	assert.Equal(t, "3", back[0].Outputs[1].Data["text/plain"])

	assert.Equal(t, domain.CellKindMarkdown, back[1].Kind)
	assert.Equal(t, cells[1].Source, back[1].Source)

	require.Len(t, back[2].Outputs, 1)
	assert.Equal(t, "ValueError", back[2].Outputs[0].ErrorName)
	assert.Equal(t, []string{"Traceback", "ValueError: boom"}, back[2].Outputs[0].Traceback)
}

func TestFromNotebook_RejectsWrongVersion(t *testing.T) {
	_, err := translate.New().FromNotebook([]byte(`{"nbformat": 3, "cells": []}`))
	assert.Error(t, err)
}

func TestFromNotebook_RawCellBecomesMarkdown(t *testing.T) {
	doc := `{"nbformat": 4, "nbformat_minor": 5, "metadata": {}, "cells": [
		{"cell_type": "raw", "source": ["keep me"], "metadata": {}}
	]}`
	cells, err := translate.New().FromNotebook([]byte(doc))
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, domain.CellKindMarkdown, cells[0].Kind)
	assert.Equal(t, "keep me", cells[0].Source)
}

func TestImportFile(t *testing.T) {
	tr := translate.New()
	data, err := tr.ToNotebook([]domain.Cell{
		{Kind: domain.CellKindCode, Source: "a = 1"},
		{Kind: domain.CellKindMarkdown, Source: "hello"},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nb.ipynb")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	source, err := tr.ImportFile(path)
	require.NoError(t, err)

	cells := translate.ParseMarkers(source, path)
	require.Len(t, cells, 2)
	assert.Equal(t, "a = 1", cells[0].Source)
	assert.Equal(t, domain.CellKindMarkdown, cells[1].Kind)
	assert.Equal(t, "hello", cells[1].Source)
}
