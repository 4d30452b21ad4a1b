package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"gramport/internal/logging"
)

// buildZip returns a stored (uncompressed) archive holding the given files.
func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// split cuts data into size-byte pieces; the last one may be shorter.
func split(data []byte, size int) [][]byte {
	var parts [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts
}

func writeChunks(t *testing.T, layout Layout, id string, parts [][]byte, order []int) {
	t.Helper()
	store := NewChunkStore(layout)
	require.NoError(t, store.EnsureSession(id))
	for _, i := range order {
		_, err := store.Put(context.Background(), id, i, bytes.NewReader(parts[i]), int64(len(parts[i])))
		require.NoError(t, err)
	}
}

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	return NewLayout(filepath.Join(t.TempDir(), "instagram-import"))
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

var quietLogger = logging.Discard()
