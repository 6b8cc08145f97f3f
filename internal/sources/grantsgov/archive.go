package grantsgov

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

var zipMagic = []byte("PK\x03\x04")

// XML returns a reader over the extract's XML document. Zip archives are
// opened and their first .xml member is used; anything else is assumed to be
// the document itself.
func (e *Extract) XML() (io.ReadCloser, error) {
	if !bytes.HasPrefix(e.Data, zipMagic) {
		return io.NopCloser(bytes.NewReader(e.Data)), nil
	}
	zr, err := zip.NewReader(bytes.NewReader(e.Data), int64(len(e.Data)))
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("open archive %s: %w", e.Name, err)}
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("open %s in %s: %w", f.Name, e.Name, err)}
		}
		return rc, nil
	}
	return nil, &ParseError{Err: fmt.Errorf("archive %s contains no xml document", e.Name)}
}
