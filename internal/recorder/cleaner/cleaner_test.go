// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cleaner_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recfleet/recfleet/internal/objstore"
	"github.com/recfleet/recfleet/internal/recorder/cleaner"
	"github.com/recfleet/recfleet/internal/recorder/statelog"
)

const testBucket = "recordings"

type fixture struct {
	client      *objstore.Client
	artifact    string
	uploadLog   *statelog.Log
	downloadLog *statelog.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	ts := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(ts.Close)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		),
	)
	require.NoError(t, err)
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})
	client := objstore.NewWithAPI(api, testBucket)

	dir := t.TempDir()
	artifact := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(artifact, make([]byte, 4096), 0o644))

	f := &fixture{
		client:      client,
		artifact:    artifact,
		uploadLog:   statelog.New(filepath.Join(dir, "upload.log")),
		downloadLog: statelog.New(filepath.Join(dir, "download.log")),
	}

	ctx := context.Background()
	for _, key := range []string{
		"rec-1/chunks/0001.mp4",
		"rec-1/chunks/0002.mp4",
		"rec-1/logs/upload.log",
	} {
		require.NoError(t, client.Upload(ctx, key, strings.NewReader("x")))
	}
	return f
}

func (f *fixture) config() cleaner.Config {
	return cleaner.Config{
		SessionID:        "rec-1",
		ArtifactPath:     f.artifact,
		Store:            f.client,
		UploadLog:        f.uploadLog,
		DownloadLog:      f.downloadLog,
		MinArtifactBytes: 1024,
	}
}

func (f *fixture) keys(t *testing.T, prefix string) []string {
	t.Helper()
	objects, err := f.client.List(context.Background(), prefix)
	require.NoError(t, err)
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj.Key)
	}
	return out
}

func TestRun_DeletesChunksKeepsLogs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.uploadLog.MarkSuccess("0001.mp4"))
	require.NoError(t, f.uploadLog.MarkSuccess("0002.mp4"))

	require.NoError(t, cleaner.New(f.config()).Run(context.Background()))

	assert.Empty(t, f.keys(t, "rec-1/chunks/"))
	assert.Equal(t, []string{"rec-1/logs/upload.log"}, f.keys(t, "rec-1/logs/"))
}

func TestRun_RefusesSmallArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.artifact, []byte("stub"), 0o644))

	err := cleaner.New(f.config()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup refused")
	assert.Len(t, f.keys(t, "rec-1/chunks/"), 2, "chunks must survive a refused cleanup")
}

func TestRun_RefusesMissingArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.artifact))

	err := cleaner.New(f.config()).Run(context.Background())
	require.Error(t, err)
	assert.Len(t, f.keys(t, "rec-1/chunks/"), 2)
}

func TestRun_RefusesUnresolvedFailures(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.uploadLog.MarkFailed("0002.mp4"))

	err := cleaner.New(f.config()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved failures")

	// Same gate on the download log.
	f2 := newFixture(t)
	require.NoError(t, f2.downloadLog.MarkFailed("0001.mp4"))
	err = cleaner.New(f2.config()).Run(context.Background())
	require.Error(t, err)
}

func TestRun_ForceBypassesGates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.artifact, []byte("stub"), 0o644))
	require.NoError(t, f.uploadLog.MarkFailed("0002.mp4"))

	cfg := f.config()
	cfg.Force = true
	require.NoError(t, cleaner.New(cfg).Run(context.Background()))
	assert.Empty(t, f.keys(t, "rec-1/chunks/"))
}

func TestRun_WholePrefix(t *testing.T) {
	f := newFixture(t)

	cfg := f.config()
	cfg.WholePrefix = true
	require.NoError(t, cleaner.New(cfg).Run(context.Background()))

	assert.Empty(t, f.keys(t, "rec-1/"))
}
