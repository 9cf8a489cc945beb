// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config collects environment-driven configuration into immutable
// structs at process startup. Hot reload is intentionally not supported.
package config

import (
	"errors"
	"fmt"
	"time"
)

// StorageMode selects where finished chunks live during capture.
type StorageMode string

const (
	StorageLocal StorageMode = "local"
	StorageS3    StorageMode = "s3"
)

// Controller holds configuration for the session controller process.
type Controller struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Shared credential pair for HTTP basic auth on /api/sessions.
	APIUser     string
	APIPassword string

	// Reaper tuning.
	MaxInactiveTime time.Duration // silence threshold before hard FAILED
	CleanupInterval time.Duration // reaper tick period
	ChunkTimeSize   time.Duration // fleet-wide segment duration
	SessionTTL      time.Duration // per-record store expiration

	RateLimitRPS int
}

// Recorder holds configuration for a single recorder process.
type Recorder struct {
	SessionID string
	ClientID  string

	ControllerURL string
	APIUser       string
	APIPassword   string

	RecordingsRoot string // final artifacts live under <root>/<sessionId>/
	ChunkFolder    string // subdir name under the session dir
	StateDir       string // upload/download state logs

	StorageMode StorageMode
	Bucket      string
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string

	// Capture engine knobs.
	VideoSource   string // x11grab input, e.g. ":0.0"
	AudioSource   string // pulse input, e.g. "default"
	Resolution    string
	Framerate     int
	VideoFormat   string
	VideoName     string
	OnlyVideo     bool
	ChunkTimeSize time.Duration
	StartChunk    int

	HeartbeatInterval time.Duration

	UploadTimeout  time.Duration
	UploadAttempts int
	UploadWorkers  int
	RetryInterval  time.Duration

	BulkTimeout   time.Duration // recursive download/delete operations
	ConcatTimeout time.Duration

	MinArtifactBytes        int64
	CleanerMinArtifactBytes int64
	ForceClean              bool
}

// ControllerFromEnv builds the controller configuration from the environment.
func ControllerFromEnv() Controller {
	return Controller{
		ListenAddr:      ParseString("LISTEN_ADDR", ":8080"),
		RedisAddr:       ParseString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   ParseString("REDIS_PASSWORD", ""),
		RedisDB:         ParseInt("REDIS_DB", 0),
		APIUser:         ParseString("API_USER", "recorder"),
		APIPassword:     ParseString("API_PASSWORD", ""),
		MaxInactiveTime: ParseDuration("MAX_INACTIVE_TIME", 600*time.Second),
		CleanupInterval: ParseDuration("CLEANUP_INTERVAL", 30*time.Second),
		ChunkTimeSize:   ParseDuration("CHUNK_TIME_SIZE", 10*time.Second),
		SessionTTL:      ParseDuration("SESSION_TTL", 24*time.Hour),
		RateLimitRPS:    ParseInt("RATE_LIMIT_RPS", 100),
	}
}

// RecorderFromEnv builds the recorder configuration from the environment.
func RecorderFromEnv() Recorder {
	return Recorder{
		SessionID:               ParseString("SESSION_ID", ""),
		ClientID:                ParseString("CLIENT_ID", ""),
		ControllerURL:           ParseString("CONTROLLER_URL", "http://localhost:8080"),
		APIUser:                 ParseString("API_USER", "recorder"),
		APIPassword:             ParseString("API_PASSWORD", ""),
		RecordingsRoot:          ParseString("RECORDINGS_ROOT", "/recordings"),
		ChunkFolder:             ParseString("CHUNK_FOLDER", "chunks"),
		StateDir:                ParseString("STATE_DIR", "/tmp"),
		StorageMode:             StorageMode(ParseString("STORAGE_MODE", string(StorageLocal))),
		Bucket:                  ParseString("BUCKET", ""),
		Endpoint:                ParseString("S3_ENDPOINT", ""),
		AccessKey:               ParseString("S3_ACCESS_KEY", ""),
		SecretKey:               ParseString("S3_SECRET_KEY", ""),
		Region:                  ParseString("S3_REGION", "us-east-1"),
		VideoSource:             ParseString("VIDEO_SOURCE", ":0.0"),
		AudioSource:             ParseString("AUDIO_SOURCE", "default"),
		Resolution:              ParseString("RESOLUTION", "1280x720"),
		Framerate:               ParseInt("FRAMERATE", 25),
		VideoFormat:             ParseString("VIDEO_FORMAT", "mp4"),
		VideoName:               ParseString("VIDEO_NAME", "video"),
		OnlyVideo:               ParseBool("ONLY_VIDEO", false),
		ChunkTimeSize:           ParseDuration("CHUNK_TIME_SIZE", 10*time.Second),
		StartChunk:              ParseInt("START_CHUNK", 0),
		HeartbeatInterval:       ParseDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		UploadTimeout:           ParseDuration("UPLOAD_TIMEOUT", 30*time.Second),
		UploadAttempts:          ParseInt("UPLOAD_ATTEMPTS", 3),
		UploadWorkers:           ParseInt("UPLOAD_WORKERS", 4),
		RetryInterval:           ParseDuration("UPLOAD_RETRY_INTERVAL", 120*time.Second),
		BulkTimeout:             ParseDuration("BULK_TIMEOUT", 300*time.Second),
		ConcatTimeout:           ParseDuration("CONCAT_TIMEOUT", 300*time.Second),
		MinArtifactBytes:        ParseInt64("MIN_ARTIFACT_BYTES", 1024),
		CleanerMinArtifactBytes: ParseInt64("CLEANER_MIN_ARTIFACT_BYTES", 1048576),
		ForceClean:              ParseBool("FORCE_CLEAN", false),
	}
}

// Validate checks that mandatory recorder settings are present.
func (c Recorder) Validate() error {
	if c.SessionID == "" {
		return errors.New("SESSION_ID is required")
	}
	if c.ClientID == "" {
		return errors.New("CLIENT_ID is required")
	}
	switch c.StorageMode {
	case StorageLocal:
	case StorageS3:
		if c.Bucket == "" {
			return errors.New("BUCKET is required in s3 storage mode")
		}
	default:
		return fmt.Errorf("unknown storage mode %q", c.StorageMode)
	}
	return nil
}
