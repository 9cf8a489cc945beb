// SPDX-License-Identifier: MIT

package fsutil_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recfleet/recfleet/internal/fsutil"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestListChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0003.mp4", 10)
	writeFile(t, dir, "0001.mp4", 10)
	writeFile(t, dir, "0002.mp4", 10)
	writeFile(t, dir, "video.mp4", 10)
	writeFile(t, dir, "0004.mp4.part", 10)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0005.mp4"), 0o755))

	chunks, err := fsutil.ListChunks(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001.mp4", "0002.mp4", "0003.mp4"}, chunks)
}

func TestListChunks_MissingDir(t *testing.T) {
	chunks, err := fsutil.ListChunks(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestNextChunkIndex(t *testing.T) {
	dir := t.TempDir()

	// Empty dir falls back, clamped to at least 1.
	n, err := fsutil.NextChunkIndex(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = fsutil.NextChunkIndex(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	writeFile(t, dir, "0001.mp4", 10)
	writeFile(t, dir, "0009.mp4", 10)
	n, err = fsutil.NextChunkIndex(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestLatestChunk(t *testing.T) {
	dir := t.TempDir()

	latest, err := fsutil.LatestChunk(dir)
	require.NoError(t, err)
	assert.Empty(t, latest)

	writeFile(t, dir, "0001.mp4", 10)
	writeFile(t, dir, "0002.mp4", 10)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "0002.mp4"), old, old))

	latest, err = fsutil.LatestChunk(dir)
	require.NoError(t, err)
	assert.Equal(t, "0001.mp4", latest)
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001.mp4", 2048)

	assert.Equal(t, int64(2048), fsutil.FileSize(filepath.Join(dir, "0001.mp4")))
	assert.Equal(t, int64(0), fsutil.FileSize(filepath.Join(dir, "missing")))
}

func TestWriteTarGz(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload-state-rec-1.txt"), []byte("SUCCESS:0001.mp4\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "download-state-rec-1.txt"), []byte("SUCCESS:0001.mp4\nFAILED:0002.mp4:1756100000\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, fsutil.WriteTarGz(&buf, []string{
		filepath.Join(dir, "upload-state-rec-1.txt"),
		filepath.Join(dir, "download-state-rec-1.txt"),
	}))

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	contents := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[hdr.Name] = string(data)
	}

	assert.Equal(t, "SUCCESS:0001.mp4\n", contents["upload-state-rec-1.txt"])
	assert.Contains(t, contents["download-state-rec-1.txt"], "FAILED:0002.mp4")
	assert.Len(t, contents, 2)
}

func TestWriteTarGz_MissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := fsutil.WriteTarGz(&buf, []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, fsutil.WriteJSONAtomic(path, map[string]string{"sessionId": "rec-1"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "rec-1", got["sessionId"])
}
