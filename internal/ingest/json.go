package ingest

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// streamJSON decodes a JSON array of corpus records element by element using
// the token decoder, keeping memory flat regardless of file size.
func streamJSON(ctx context.Context, r io.Reader) (<-chan fileRecord, <-chan error) {
	out := make(chan fileRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		dec := json.NewDecoder(r)

		tok, err := dec.Token()
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: read json opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("ingest: expected json array, got %v", tok)
			return
		}

		for dec.More() {
			var fr fileRecord
			if err := dec.Decode(&fr); err != nil {
				errCh <- eris.Wrap(err, "ingest: decode json record")
				return
			}
			select {
			case out <- fr:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		if _, err := dec.Token(); err != nil {
			errCh <- eris.Wrap(err, "ingest: read json closing token")
		}
	}()

	return out, errCh
}
