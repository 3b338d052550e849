package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	e := New(ExpenseRecorded, "u1")
	e.Period = "2024-01"
	e.AmountCents = 5000

	data, err := e.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"expense.recorded"`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, "2024-01", back.Period)
	assert.True(t, e.Timestamp.Equal(back.Timestamp))

	_, err = FromJSON([]byte("{"))
	assert.Error(t, err)
}
