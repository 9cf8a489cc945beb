// SPDX-License-Identifier: MIT

// Package fsutil provides filesystem helpers for the chunk directory layout.
package fsutil

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/recfleet/recfleet/internal/domain/session/model"
)

// ListChunks returns the well-formed chunk filenames in dir, sorted
// lexicographically. The numbering scheme makes this temporal order.
func ListChunks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if model.IsValidChunkName(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// NextChunkIndex returns max(existing numbered files)+1, or fallback when the
// directory holds no chunks yet.
func NextChunkIndex(dir string, fallback int) (int, error) {
	chunks, err := ListChunks(dir)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		if fallback < 1 {
			fallback = 1
		}
		return fallback, nil
	}
	last := chunks[len(chunks)-1]
	n, err := strconv.Atoi(strings.TrimSuffix(last, filepath.Ext(last)))
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// LatestChunk returns the most recently modified chunk filename in dir, or
// empty when none exist.
func LatestChunk(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !model.IsValidChunkName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = e.Name()
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}

// FileSize returns the size of path, or 0 when it does not exist.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// WriteTarGz streams the named files into a gzip-compressed tar archive.
// Entries carry the base name only, so the archive is flat.
func WriteTarGz(w io.Writer, paths []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, p := range paths {
		if err := addTarEntry(tw, p); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addTarEntry(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// WriteJSONAtomic marshals v and writes it to path via an atomic rename, so
// readers never observe a partial file.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}
