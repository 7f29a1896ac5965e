package fetcher

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ExtractNXML reads a PMC OA archive tarball (.tar.gz) and returns the
// bytes of its single .nxml member, which is the JATS XML source for
// the article. It returns an error if the archive contains no .nxml
// file.
func ExtractNXML(r io.Reader) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("fetcher: open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetcher: read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if strings.EqualFold(filepath.Ext(hdr.Name), ".nxml") {
			// Archive members carry no reliable pre-declared size bound
			// beyond the tar header itself; cap the read defensively at
			// the same ceiling an individual JATS download would face.
			data, err := io.ReadAll(io.LimitReader(tr, 100*1024*1024))
			if err != nil {
				return nil, fmt.Errorf("fetcher: read nxml member %s: %w", hdr.Name, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("fetcher: archive contains no .nxml member")
}
