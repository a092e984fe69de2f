package ingest

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

const defaultXMLElement = "record"

// streamXML decodes repeated record elements from an XML document. Office
// bulk exports regularly declare Latin-1 or Windows-1252; the charset reader
// handles any encoding the HTML index knows.
func streamXML(ctx context.Context, r io.Reader, element string) (<-chan fileRecord, <-chan error) {
	if element == "" {
		element = defaultXMLElement
	}
	out := make(chan fileRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		dec := xml.NewDecoder(r)
		dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: xml charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			tok, err := dec.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read xml token")
				return
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != element {
				continue
			}

			var fr fileRecord
			if err := dec.DecodeElement(&fr, &se); err != nil {
				errCh <- eris.Wrapf(err, "ingest: decode xml element <%s>", element)
				return
			}
			select {
			case out <- fr:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}
