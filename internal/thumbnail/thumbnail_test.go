package thumbnail

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePdftoppm writes a shell script that mimics pdftoppm's relevant
// contract: given "-singlefile ... <src> <outPrefix>", it writes
// <outPrefix>.png with deterministic content so Render's read-back can
// be asserted without a real PDF renderer on the test box.
func fakePdftoppm(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub not supported on windows")
	}
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

func TestRender(t *testing.T) {
	cmd := fakePdftoppm(t)

	images, err := Render(context.Background(), cmd, []byte("%PDF-1.4 fake"))
	require.NoError(t, err)

	require.Len(t, images, 3)
	for _, size := range []Size{SizeSmall, SizeMedium, SizeLarge} {
		assert.Equal(t, []byte("png-bytes"), images[size])
	}
}

func TestRender_CommandFails(t *testing.T) {
	_, err := Render(context.Background(), "/nonexistent/pdftoppm-binary", []byte("fake"))
	assert.Error(t, err)
}
