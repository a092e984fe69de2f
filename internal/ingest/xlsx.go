package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// streamXLSX reads one worksheet with the first row as header. The xlsx
// library loads the workbook into memory, so the channel exists for shape
// parity with the other formats, not for streaming economy.
func streamXLSX(ctx context.Context, path, sheetName string) (<-chan fileRecord, <-chan error) {
	out := make(chan fileRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: open xlsx")
			return
		}

		var sheet *xlsx.Sheet
		if sheetName != "" {
			s, ok := f.Sheet[sheetName]
			if !ok {
				errCh <- eris.Errorf("ingest: xlsx sheet %q not found", sheetName)
				return
			}
			sheet = s
		} else {
			if len(f.Sheets) == 0 {
				errCh <- eris.New("ingest: xlsx workbook has no sheets")
				return
			}
			sheet = f.Sheets[0]
		}

		if len(sheet.Rows) == 0 {
			errCh <- eris.Errorf("ingest: xlsx sheet %q is empty", sheet.Name)
			return
		}

		cols, err := mapHeader(rowStrings(sheet.Rows[0]))
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range sheet.Rows[1:] {
			select {
			case out <- cols.record(rowStrings(row)):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
