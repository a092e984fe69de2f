package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains a record stream and returns the rows with the terminal
// error, if any.
func collect(t *testing.T, recs <-chan fileRecord, errs <-chan error) ([]fileRecord, error) {
	t.Helper()
	var out []fileRecord
	for fr := range recs {
		out = append(out, fr)
	}
	return out, <-errs
}

func TestStreamCSV_Basic(t *testing.T) {
	input := strings.Join([]string{
		"publication_number,title,pub_date,cpc,inventor",
		`US11000001B2,Acoustic probe,2024-05-01,"G01N 29/036","Doe, Jane; Smith, John"`,
		"US11000002A1,Membrane sensor,2023-11-12,H01L 41/08,Nguyen Minh",
	}, "\n")

	recs, errs := streamCSV(context.Background(), strings.NewReader(input), 0)
	rows, err := collect(t, recs, errs)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "US11000001B2", rows[0].Identifier)
	assert.Equal(t, "Acoustic probe", rows[0].Title)
	assert.Equal(t, "2024-05-01", rows[0].PublicationDate)
	assert.Equal(t, "G01N 29/036", rows[0].Classifications)
	assert.Equal(t, "Doe, Jane; Smith, John", rows[0].Inventors)
	assert.Equal(t, "US11000002A1", rows[1].Identifier)
}

func TestStreamCSV_RaggedRows(t *testing.T) {
	input := "id,title,abstract\nUS1B2,Probe\nUS2B2,Sensor,Long abstract,extra"

	recs, errs := streamCSV(context.Background(), strings.NewReader(input), 0)
	rows, err := collect(t, recs, errs)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "US1B2", rows[0].Identifier)
	assert.Empty(t, rows[0].Abstract)
	assert.Equal(t, "Long abstract", rows[1].Abstract)
}

func TestStreamCSV_SemicolonDelimiter(t *testing.T) {
	input := "id;title\nUS1B2;Probe"

	recs, errs := streamCSV(context.Background(), strings.NewReader(input), ';')
	rows, err := collect(t, recs, errs)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Probe", rows[0].Title)
}

func TestStreamCSV_EmptyFile(t *testing.T) {
	recs, errs := streamCSV(context.Background(), strings.NewReader(""), 0)
	_, err := collect(t, recs, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestStreamCSV_MissingIdentifierColumn(t *testing.T) {
	recs, errs := streamCSV(context.Background(), strings.NewReader("title,abstract\na,b"), 0)
	_, err := collect(t, recs, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifier")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rows strings.Builder
	rows.WriteString("id,title\n")
	for i := 0; i < 500; i++ {
		rows.WriteString("US1B2,Probe\n")
	}

	recs, errs := streamCSV(ctx, strings.NewReader(rows.String()), 0)
	err := <-errs
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	for range recs {
	}
}
