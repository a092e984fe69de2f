package ingest

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// streamCSV parses header-mapped CSV rows into file records. The first row
// is the header; rows stream through the channel so multi-gigabyte exports
// never load wholesale. The error channel delivers at most one error after
// the record channel closes.
func streamCSV(ctx context.Context, r io.Reader, delimiter rune) (<-chan fileRecord, <-chan error) {
	out := make(chan fileRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		reader := csv.NewReader(r)
		if delimiter != 0 {
			reader.Comma = delimiter
		}
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("ingest: csv file is empty")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: read csv header")
			return
		}
		cols, err := mapHeader(header)
		if err != nil {
			errCh <- err
			return
		}

		for {
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read csv row")
				return
			}
			select {
			case out <- cols.record(row):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}
