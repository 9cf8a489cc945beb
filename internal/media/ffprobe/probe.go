// Package ffprobe inspects finished artifacts with ffprobe.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Info summarises the playable content of an artifact.
type Info struct {
	HasAudio bool
	HasVideo bool
	Duration float64 // seconds
	Size     int64   // bytes
}

type probeData struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe executes ffprobe and returns stream info. A non-zero exit is
// tolerated when the JSON still describes playable content (partial files).
func Probe(ctx context.Context, path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 -- ffprobe is hardcoded; args are strictly controlled
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, runErr := cmd.Output()

	var data probeData
	if jsonErr := json.Unmarshal(out, &data); jsonErr != nil {
		if runErr != nil {
			errStr := stderr.String()
			if len(errStr) > 4096 {
				errStr = errStr[:4096] + "..."
			}
			return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", runErr, errStr)
		}
		return nil, fmt.Errorf("json decode: %w", jsonErr)
	}

	info := &Info{Size: stat.Size()}
	for _, s := range data.Streams {
		if s.CodecName == "" {
			continue
		}
		switch s.CodecType {
		case "video":
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}
	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	if !info.HasVideo && !info.HasAudio {
		return info, fmt.Errorf("no playable streams in %s", path)
	}
	return info, nil
}
