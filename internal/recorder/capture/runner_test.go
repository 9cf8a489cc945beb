// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArgs_Segmentation(t *testing.T) {
	r := NewRunner(Spec{
		ChunkDir:   "/recordings/rec-1/chunks",
		VideoSrc:   ":0.0",
		AudioSrc:   "default",
		Resolution: "1920x1080",
		Framerate:  30,
		Format:     "mp4",
		ChunkTime:  10 * time.Second,
		StartIndex: 5,
	})

	args := strings.Join(r.Args(), " ")
	assert.Contains(t, args, "-f segment")
	assert.Contains(t, args, "-segment_time 10")
	assert.Contains(t, args, "-segment_start_number 5")
	assert.Contains(t, args, "-reset_timestamps 1")
	assert.Contains(t, args, "/recordings/rec-1/chunks/%04d.mp4")
	assert.Contains(t, args, "-video_size 1920x1080")
	assert.Contains(t, args, "-framerate 30")
	assert.Contains(t, args, "-f pulse")
	assert.Contains(t, args, "-c:a aac")
}

func TestArgs_OnlyVideo(t *testing.T) {
	r := NewRunner(Spec{
		ChunkDir:   "/tmp/chunks",
		VideoSrc:   ":0.0",
		OnlyVideo:  true,
		Resolution: "1280x720",
		Framerate:  25,
		ChunkTime:  10 * time.Second,
		StartIndex: 1,
	})

	args := strings.Join(r.Args(), " ")
	assert.NotContains(t, args, "pulse")
	assert.NotContains(t, args, "-c:a")
	// Format defaults to mp4.
	assert.Contains(t, args, "%04d.mp4")
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	assert.Nil(t, r.LastN(5))

	r.Append("one")
	r.Append("two")
	r.Append("three")
	r.Append("four")

	assert.Equal(t, []string{"two", "three", "four"}, r.LastN(5))
	assert.Equal(t, []string{"four"}, r.LastN(1))
	assert.Nil(t, r.LastN(0))
}
