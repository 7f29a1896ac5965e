package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/entrystore"
	"github.com/helixir/article-harvester/internal/repository"
	"github.com/helixir/article-harvester/internal/structuring"
)

func fakePdftoppmScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pdftoppm")
	script := `#!/bin/sh
for arg in "$@"; do
  out="$arg"
done
printf 'png-bytes' > "$out.png"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, repository.Repository, *entrystore.Store) {
	t.Helper()
	store, err := entrystore.Open(filepath.Join(t.TempDir(), "map.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo, err := repository.NewLocalRepository(t.TempDir())
	require.NoError(t, err)

	o := New(cfg, store, repo, nil, nil, nil, zerolog.Nop())
	return o, repo, store
}

func TestPostProcess_SkipsWithoutPDF(t *testing.T) {
	o, _, store := newTestOrchestrator(t, Config{})
	entry := domain.NewEntry("no-pdf-entry", domain.Identifiers{DOI: "10.1/x"})
	require.NoError(t, store.Update(entry))

	o.postProcess(context.Background(), entry, zerolog.Nop())

	assert.False(t, entry.Artifacts.RefAnnotations)
	assert.False(t, entry.Artifacts.Thumbnails)
}

func TestPostProcess_ReferenceAnnotations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/processReferences", r.URL.Path)
		_, _ = w.Write([]byte("<TEI><biblStruct/></TEI>"))
	}))
	defer server.Close()

	grobid := structuring.NewGROBIDClient(structuring.GROBIDConfig{BaseURL: server.URL})
	o, repo, store := newTestOrchestrator(t, Config{EnableAnnotation: true, StructuringTimeout: 0})
	o.grobid = grobid

	entry := domain.NewEntry("ref-annotation-entry", domain.Identifiers{DOI: "10.1/y"})
	entry.Artifacts.PDF = true
	require.NoError(t, store.Update(entry))
	require.NoError(t, repo.Put(context.Background(), entry.StorageKey()+"/"+entry.ID+".pdf",
		strings.NewReader("%PDF-1.4 fake"), int64(len("%PDF-1.4 fake"))))

	o.postProcess(context.Background(), entry, zerolog.Nop())

	assert.True(t, entry.Artifacts.RefAnnotations)
	out, err := repo.Get(context.Background(), entry.StorageKey()+"/"+entry.ID+"-ref-annotations.json")
	require.NoError(t, err)
	assert.Contains(t, string(out), "biblStruct")
}

func TestPostProcess_Thumbnails(t *testing.T) {
	cmd := fakePdftoppmScript(t)
	o, repo, store := newTestOrchestrator(t, Config{EnableThumbnail: true, ThumbnailCommand: cmd, FetchTimeout: 0})

	entry := domain.NewEntry("thumb-entry", domain.Identifiers{DOI: "10.1/z"})
	entry.Artifacts.PDF = true
	require.NoError(t, store.Update(entry))
	require.NoError(t, repo.Put(context.Background(), entry.StorageKey()+"/"+entry.ID+".pdf",
		strings.NewReader("%PDF-1.4 fake"), int64(len("%PDF-1.4 fake"))))

	o.postProcess(context.Background(), entry, zerolog.Nop())

	assert.True(t, entry.Artifacts.Thumbnails)
	for _, size := range []string{"small", "medium", "large"} {
		_, err := repo.Get(context.Background(), entry.StorageKey()+"/"+entry.ID+"-thumb-"+size+".png")
		assert.NoError(t, err, "size %s", size)
	}
}

func TestPostProcess_NonFatalOnFailure(t *testing.T) {
	o, _, store := newTestOrchestrator(t, Config{EnableAnnotation: true})
	entry := domain.NewEntry("missing-pdf-entry", domain.Identifiers{DOI: "10.1/w"})
	entry.Artifacts.PDF = true
	require.NoError(t, store.Update(entry))

	// No GROBID client is configured and no PDF was Put to the repo, so
	// extraction fails; postProcess must log and return without panicking
	// or marking the entry failed.
	o.postProcess(context.Background(), entry, zerolog.Nop())

	assert.False(t, entry.Artifacts.RefAnnotations)
	assert.False(t, entry.HasFailedStage())
}
