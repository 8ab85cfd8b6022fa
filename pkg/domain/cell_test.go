package domain_test

import (
	"testing"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellState_Terminal(t *testing.T) {
	assert.False(t, domain.CellStateUnknown.Terminal())
	assert.False(t, domain.CellStateInit.Terminal())
	assert.False(t, domain.CellStateExecuting.Terminal())
	assert.True(t, domain.CellStateFinished.Terminal())
	assert.True(t, domain.CellStateError.Terminal())
}

func TestCell_CloneIsolation(t *testing.T) {
	cell := domain.NewCell(domain.CellKindCode, "print(1)", "f.py", 10)
	cell.Outputs = append(cell.Outputs, domain.Output{
		Kind:       domain.OutputStream,
		StreamName: "stdout",
		Data:       domain.MimeBundle{"text/plain": "1\n"},
	})

	cp := cell.Clone()
	cp.Outputs[0].Data["text/plain"] = "mutated"
	cp.Outputs = append(cp.Outputs, domain.Output{Kind: domain.OutputError})
	cp.State = domain.CellStateError

	assert.Equal(t, "1\n", cell.Outputs[0].Data["text/plain"])
	assert.Len(t, cell.Outputs, 1)
	assert.Equal(t, domain.CellStateUnknown, cell.State)
}

func TestCell_Text(t *testing.T) {
	cell := domain.NewCell(domain.CellKindCode, "", "", 0)
	cell.Outputs = []domain.Output{
		{Kind: domain.OutputStream, StreamName: "stdout", Data: domain.MimeBundle{"text/plain": "a"}},
		{Kind: domain.OutputStream, StreamName: "stdout", Data: domain.MimeBundle{"text/plain": "b\n"}},
		{Kind: domain.OutputExecuteResult, Data: domain.MimeBundle{"text/plain": "42"}},
	}
	assert.Equal(t, "ab\n42", cell.Text())
}

func TestCell_ErrorOutput(t *testing.T) {
	cell := domain.NewCell(domain.CellKindCode, "", "", 0)
	assert.Nil(t, cell.ErrorOutput())

	cell.Outputs = append(cell.Outputs,
		domain.Output{Kind: domain.OutputStream, Data: domain.MimeBundle{"text/plain": "x"}},
		domain.Output{Kind: domain.OutputError, ErrorName: "TypeError", ErrorValue: "bad"},
	)
	eo := cell.ErrorOutput()
	require.NotNil(t, eo)
	assert.Equal(t, "TypeError", eo.ErrorName)
}

func TestSessionRecord_CloneIsolation(t *testing.T) {
	rec := domain.NewSessionRecord("s1", domain.Environment{Path: "python3"})
	rec.Cells = append(rec.Cells, *domain.NewCell(domain.CellKindCode, "x", "", 0))

	cp := rec.Clone()
	cp.Cells[0].Source = "mutated"
	cp.Restarts = 5

	assert.Equal(t, "x", rec.Cells[0].Source)
	assert.Equal(t, 0, rec.Restarts)
}
