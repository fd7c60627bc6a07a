package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/personasync/apiserver/types"
)

const exportContentType = "application/json"

// ErrExportDisabled is returned when no object storage is configured.
var ErrExportDisabled = errors.New("export storage not configured")

// ObjectWriter uploads objects. *storage.Storage satisfies it.
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// ExportService writes profile snapshots to object storage.
type ExportService struct {
	profiles ProfileLister
	objects  ObjectWriter
	now      func() time.Time
}

func NewExportService(profiles ProfileLister, objects ObjectWriter) *ExportService {
	return &ExportService{profiles: profiles, objects: objects, now: time.Now}
}

// Snapshot uploads every profile plus the aggregates and returns the
// object key.
func (e *ExportService) Snapshot(ctx context.Context) (string, error) {
	if e.objects == nil {
		return "", ErrExportDisabled
	}

	profiles, err := e.profiles.Profiles(ctx)
	if err != nil {
		return "", err
	}
	generatedAt := e.now().UTC()
	doc := types.ProfileExport{
		GeneratedAt: generatedAt,
		Stats:       ComputeStats(profiles),
		Profiles:    profiles,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	key := ExportKey(generatedAt)
	if err := e.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), exportContentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// ExportKey names the snapshot object for the given time.
func ExportKey(t time.Time) string {
	return "exports/profiles-" + t.UTC().Format("20060102T150405Z") + ".json"
}
