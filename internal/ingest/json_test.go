package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamJSON_Basic(t *testing.T) {
	input := `[
		{"identifier": "patent/US11000001B2/en", "title": "Acoustic probe", "publication_date": "2024-05-01"},
		{"identifier": "10.1234/acoustics.2023.55", "title": "Resonance paper", "inventors": "Doe, Jane"}
	]`

	recs, errs := streamJSON(context.Background(), strings.NewReader(input))
	rows, err := collect(t, recs, errs)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "patent/US11000001B2/en", rows[0].Identifier)
	assert.Equal(t, "2024-05-01", rows[0].PublicationDate)
	assert.Equal(t, "Resonance paper", rows[1].Title)
}

func TestStreamJSON_EmptyArray(t *testing.T) {
	recs, errs := streamJSON(context.Background(), strings.NewReader("[]"))
	rows, err := collect(t, recs, errs)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamJSON_NotAnArray(t *testing.T) {
	recs, errs := streamJSON(context.Background(), strings.NewReader(`{"identifier": "US1B2"}`))
	_, err := collect(t, recs, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected json array")
}

func TestStreamJSON_MalformedElement(t *testing.T) {
	input := `[{"identifier": "US1B2"}, {"identifier": 42}]`

	recs, errs := streamJSON(context.Background(), strings.NewReader(input))
	rows, err := collect(t, recs, errs)
	require.Error(t, err)
	assert.Len(t, rows, 1)
	assert.Contains(t, err.Error(), "decode json record")
}
