package imports

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidFile(t *testing.T) {
	csv := "\ufeffClient_Email, BW_Quantity,color_quantity,paper_dimensions,external_order_id,order_date,ignored\n" +
		"Alice@Example.com,100,0,A4,EXT-1,2026-09-15,x\n" +
		"bob@example.com,0,25,210x297mm,EXT-2,,y\n"

	rows, err := Parse(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, "alice@example.com", rows[0].ClientEmail)
	assert.Equal(t, 100, rows[0].BWQuantity)
	assert.Equal(t, "EXT-1", rows[0].ExternalOrderID)
	require.NotNil(t, rows[0].OrderedAt)
	assert.Equal(t, time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC), *rows[0].OrderedAt)
	assert.Empty(t, rows[0].Errors)

	assert.Equal(t, 3, rows[1].Number)
	assert.Equal(t, 25, rows[1].ColorQuantity)
	assert.Nil(t, rows[1].OrderedAt)
	assert.Empty(t, rows[1].Errors)
}

func TestParse_RowErrors(t *testing.T) {
	csv := "client_id,client_email,agent_email,bw_quantity,color_quantity,paper_dimensions,order_date\n" +
		"not-a-uuid,,,10,0,,\n" +
		",,,10,0,,\n" +
		",x@example.com,nope,10,0,,\n" +
		",x@example.com,,0,0,,\n" +
		",x@example.com,,-5,1,,\n" +
		",x@example.com,,ten,1,,\n" +
		",x@example.com,,1,0,B12,\n" +
		",x@example.com,,1,0,,15/09/2026\n"

	rows, err := Parse(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 8)

	wants := []string{
		"invalid client_id",
		"client_id or client_email is required",
		"invalid agent_email",
		"must be greater than 0",
		"must not be negative",
		"whole number",
		"invalid paper_dimensions",
		"invalid order_date",
	}
	for i, want := range wants {
		require.NotEmpty(t, rows[i].Errors, "row %d", rows[i].Number)
		assert.Contains(t, strings.Join(rows[i].Errors, "; "), want, "row %d", rows[i].Number)
	}
}

func TestParse_HeaderProblems(t *testing.T) {
	_, err := Parse(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Parse(strings.NewReader("bw_quantity\n10\n"), 0)
	assert.ErrorIs(t, err, ErrNoClientCol)

	_, err = Parse(strings.NewReader("client_email,notes\na@example.com,hi\n"), 0)
	assert.ErrorIs(t, err, ErrNoQtyCol)
}

func TestParse_RowLimitAndBlankLines(t *testing.T) {
	csv := "client_email,bw_quantity\na@example.com,1\n,\nb@example.com,2\nc@example.com,3\n"

	rows, err := Parse(strings.NewReader(csv), 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = Parse(strings.NewReader(csv), 2)
	var tooMany *TooManyRowsError
	require.True(t, errors.As(err, &tooMany))
	assert.Equal(t, 2, tooMany.Max)
}

func TestCorrections_Apply(t *testing.T) {
	csv := "client_email,bw_quantity,external_order_id\n" +
		"NOT AN EMAIL,10,X-1\n" +
		"b@example.com,5,X-2\n"
	rows, err := Parse(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows[0].Errors)

	fixed, err := Corrections{2: {"Client_Email": " A@Example.com "}}.Apply(rows)
	require.NoError(t, err)
	assert.Empty(t, fixed[0].Errors)
	assert.Equal(t, "a@example.com", fixed[0].ClientEmail)
	assert.Equal(t, 10, fixed[0].BWQuantity)
	assert.Equal(t, "X-1", fixed[0].ExternalOrderID)
	assert.Equal(t, rows[1], fixed[1])
	assert.NotEmpty(t, rows[0].Errors, "original rows are untouched")

	_, err = Corrections{7: {"bw_quantity": "1"}}.Apply(rows)
	assert.ErrorContains(t, err, "no such row")

	_, err = Corrections{3: {"price": "1"}}.Apply(rows)
	assert.ErrorContains(t, err, "unknown column")

	same, err := Corrections(nil).Apply(rows)
	require.NoError(t, err)
	assert.Equal(t, rows, same)
}
