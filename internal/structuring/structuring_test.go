package structuring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGROBIDClient_StructurePDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/processFulltextDocument", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<TEI/>"))
	}))
	defer server.Close()

	c := NewGROBIDClient(GROBIDConfig{BaseURL: server.URL})
	tei, err := c.StructurePDF(context.Background(), []byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, "<TEI/>", string(tei))
}

func TestGROBIDClient_StructurePDF_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewGROBIDClient(GROBIDConfig{BaseURL: server.URL})
	_, err := c.StructurePDF(context.Background(), []byte("fake"))
	assert.ErrorIs(t, err, ErrStructuringFailed)
}

func TestGROBIDClient_RequestReferenceAnnotations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/processReferences", r.URL.Path)
		_, _ = w.Write([]byte("<TEI><biblStruct/><biblStruct/></TEI>"))
	}))
	defer server.Close()

	c := NewGROBIDClient(GROBIDConfig{BaseURL: server.URL})
	out, err := c.RequestReferenceAnnotations(context.Background(), []byte("%PDF-1.4 fake"))
	require.NoError(t, err)

	var annotations referenceAnnotations
	require.NoError(t, json.Unmarshal(out, &annotations))
	assert.Equal(t, 2, annotations.ReferenceCount)
	assert.Contains(t, annotations.TEI, "<biblStruct/>")
}

func TestGROBIDClient_RequestReferenceAnnotations_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewGROBIDClient(GROBIDConfig{BaseURL: server.URL})
	_, err := c.RequestReferenceAnnotations(context.Background(), []byte("fake"))
	assert.ErrorIs(t, err, ErrStructuringFailed)
}

// fakeSaxon writes a shell script standing in for "java -jar saxon9he.jar
// -s:<inputDir> -xsl:<stylesheet> -o:<outputDir> ...": it copies every
// .nxml file under the -s: directory to the -o: directory with ".xml"
// appended, mirroring Saxon's own directory-output naming.
func fakeSaxon(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub not supported on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "java")
	script := `#!/bin/sh
src=""
out=""
for arg in "$@"; do
  case "$arg" in
    -s:*) src="${arg#-s:}" ;;
    -o:*) out="${arg#-o:}" ;;
  esac
done
for f in "$src"/*.nxml; do
  [ -e "$f" ] || continue
  cp "$f" "$out/$(basename "$f").xml"
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPub2TEIClient_StructureBatch(t *testing.T) {
	javaBin := fakeSaxon(t)
	inputDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "abc123.nxml"), []byte("<article/>"), 0o644))

	c := NewPub2TEIClient(Pub2TEIConfig{JATSTransformerPath: "/opt/pub2tei", JavaBin: javaBin})
	err := c.StructureBatch(context.Background(), inputDir, outputDir)
	require.NoError(t, err)

	tei, err := os.ReadFile(filepath.Join(outputDir, "abc123.nxml.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<article/>", string(tei))

	for _, dtd := range dummyDTDFiles {
		_, err := os.Stat(filepath.Join(inputDir, dtd))
		assert.NoError(t, err, "dummy dtd %s should be staged", dtd)
	}
}

func TestPub2TEIClient_StructureBatch_MissingTransformerPath(t *testing.T) {
	c := NewPub2TEIClient(Pub2TEIConfig{})
	err := c.StructureBatch(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrStructuringFailed)
}

func TestPub2TEIClient_StructureBatch_CommandFails(t *testing.T) {
	c := NewPub2TEIClient(Pub2TEIConfig{JATSTransformerPath: "/opt/pub2tei", JavaBin: "/nonexistent/java-binary"})
	err := c.StructureBatch(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrStructuringFailed)
}
