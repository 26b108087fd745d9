package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestFileSystems(t *testing.T) {
	filesystems := map[string]struct {
		fsys FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, t.TempDir()},
		"memory": {NewMemoryFileSystem(), "/out"},
	}
	for name, tc := range filesystems {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tc.root, "job", "buildings.geojson")
			assert.False(t, tc.fsys.Exists(path))

			require.NoError(t, WriteFile(tc.fsys, path, writeString(`{"type":"FeatureCollection"}`)))
			assert.True(t, tc.fsys.Exists(path))
			assert.True(t, tc.fsys.Exists(filepath.Dir(path)))

			data, err := tc.fsys.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, `{"type":"FeatureCollection"}`, string(data))

			require.NoError(t, WriteFile(tc.fsys, path, writeString("{}")))
			data, err = tc.fsys.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "{}", string(data), "create truncates")

			_, err = tc.fsys.ReadFile(filepath.Join(tc.root, "missing"))
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestMemoryFileSystem_CreateNeedsDir(t *testing.T) {
	m := NewMemoryFileSystem()
	_, err := m.Create("/out/a.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.MkdirAll("/out", 0o755))
	w, err := m.Create("/out/a.png")
	require.NoError(t, err)
	_, err = w.Write([]byte("png"))
	require.NoError(t, err)
	assert.False(t, m.Exists("/out/a.png"), "contents appear on close")
	require.NoError(t, w.Close())
	assert.True(t, m.Exists("/out/a.png"))
}

func TestMemoryFileSystem_Files(t *testing.T) {
	m := NewMemoryFileSystem()
	for _, name := range []string{"/out/b.png", "/out/a.png", "/out/sub/c.html", "/other/d.png"} {
		require.NoError(t, WriteFile(m, name, writeString(name)))
	}
	assert.Equal(t, []string{"/out/a.png", "/out/b.png", "/out/sub/c.html"}, m.Files("/out"))
	assert.Empty(t, m.Files("/nowhere"))
}

func TestMemoryFileSystem_ReadIsACopy(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, WriteFile(m, "/out/a", writeString("abc")))
	data, _ := m.ReadFile("/out/a")
	data[0] = 'x'
	again, _ := m.ReadFile("/out/a")
	assert.Equal(t, "abc", string(again))
}

func TestWriteFile_PropagatesWriteError(t *testing.T) {
	m := NewMemoryFileSystem()
	boom := errors.New("boom")
	err := WriteFile(m, "/out/a", func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)
}
