package storage

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditdrop/creditdrop/pkg/model"
)

func buildTar(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: topDir, Typeflag: tar.TypeDir, Mode: 0o755}))
	for name, content := range files {
		hdr := &tar.Header{
			Name:     filepath.Join(topDir, name),
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestFinalizeExtractsTarWhenRequested(t *testing.T) {
	reg, _, manual := newTestRegistry(t)

	archive := buildTar(t, "dataset", map[string]string{"a.txt": "aaa", "b.txt": "bbb"})

	sf, err := reg.AddFile("bundle.tar", model.FileMeta{"passthrough": "incoming", "untar": "True"}, "alice")
	require.NoError(t, err)
	require.NoError(t, sf.Write(archive))

	sum := sf.hasher.Sum()
	require.NoError(t, sf.Finalize(sum))

	landedDir := filepath.Join(manual, "incoming", "dataset")
	got, err := os.ReadFile(filepath.Join(landedDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "aaa", string(got))
}

func TestFinalizeRejectsOversizedTar(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	files := map[string]string{}
	for i := 0; i < 15; i++ {
		files[string(rune('a'+i))+".txt"] = "x"
	}
	archive := buildTar(t, "many", files)

	sf, err := reg.AddFile("bundle2.tar", model.FileMeta{"passthrough": "incoming", "untar": "True"}, "alice")
	require.NoError(t, err)
	require.NoError(t, sf.Write(archive))

	sum := sf.hasher.Sum()
	err = sf.Finalize(sum)
	require.Error(t, err)
	require.Equal(t, 0, reg.NumActive())
}

func TestFinalizeWritesMarkerOnlyWithValidBarcode(t *testing.T) {
	reg, _, manual := newTestRegistry(t)

	sf, err := reg.AddFile("QJFDC010EU.raw", model.FileMeta{"passthrough": "incoming"}, "lab1")
	require.NoError(t, err)
	require.NoError(t, sf.Write([]byte("data")))
	sum := sf.hasher.Sum()
	require.NoError(t, sf.Finalize(sum))

	markerPath := filepath.Join(manual, "incoming", ".MARKER_is_finished_QJFDC010EU.raw")
	_, err = os.Stat(markerPath)
	require.NoError(t, err)
}

func TestFinalizeSkipsMarkerWithoutBarcode(t *testing.T) {
	reg, _, manual := newTestRegistry(t)

	sf, err := reg.AddFile("plain.txt", model.FileMeta{"passthrough": "incoming"}, "lab1")
	require.NoError(t, err)
	require.NoError(t, sf.Write([]byte("data")))
	sum := sf.hasher.Sum()
	require.NoError(t, sf.Finalize(sum))

	markerPath := filepath.Join(manual, "incoming", ".MARKER_is_finished_plain.txt")
	_, err = os.Stat(markerPath)
	require.True(t, os.IsNotExist(err))
}
