package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo-backend/internal/config"
)

// ErrFileTooLarge is returned when a snapshot exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

// MediaService stores warning snapshots on local disk and serves them back
// under /captures. Implements the session package's capture sink.
type MediaService struct {
	cfg *config.Config
}

// NewMediaService creates a new MediaService.
func NewMediaService(cfg *config.Config) *MediaService {
	return &MediaService{cfg: cfg}
}

// StoreSnapshot writes an encoded webcam frame to the capture directory
// with a UUID filename and returns the relative URL path.
func (s *MediaService) StoreSnapshot(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty snapshot")
	}
	if int64(len(image)) > s.cfg.MaxCaptureBytes {
		return "", fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, len(image), s.cfg.MaxCaptureBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.cfg.CaptureDir, 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}

	filename := uuid.New().String() + ".jpg"
	destPath := filepath.Join(s.cfg.CaptureDir, filename)

	if err := os.WriteFile(destPath, image, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return "/captures/" + filename, nil
}
