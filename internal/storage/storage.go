package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrVersionConflict means another writer already holds the (person, version) pair.
	ErrVersionConflict = errors.New("version already exists for person")
	// ErrNotFound means no matching generation record exists.
	ErrNotFound = errors.New("generation record not found")
)

// GenerationRecord is one persisted portrait version.
type GenerationRecord struct {
	ID           int64     `json:"id"`
	PersonKey    string    `json:"personKey"`
	Version      int       `json:"version"`
	Prompt       string    `json:"prompt"`
	ImageRef     string    `json:"imageRef"`
	ModelVersion string    `json:"modelVersion"`
	ResponseID   string    `json:"responseId,omitempty"`
	UsedBase     bool      `json:"usedBase"`
	Note         string    `json:"note,omitempty"`
	ResetReason  string    `json:"resetReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RecordStore holds generation metadata. Versions per person are contiguous
// from 1 and unique.
type RecordStore interface {
	LatestRecord(ctx context.Context, person string) (*GenerationRecord, error)
	LatestRecordSince(ctx context.Context, person string, since time.Time) (*GenerationRecord, error)
	CountInWindow(ctx context.Context, person string, start, end time.Time) (int, error)
	NextVersion(ctx context.Context, person string) (int, error)
	InsertNext(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error)
	InsertAtVersion(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error)
	ReplaceVersion(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error)
	GetByVersion(ctx context.Context, person string, version int) (*GenerationRecord, error)
	History(ctx context.Context, person string, limit int) ([]*GenerationRecord, error)
	RecentPrompts(ctx context.Context, person string, n int) ([]string, error)
	People(ctx context.Context) ([]string, error)
	Close() error
}

// Storage pairs the metadata store with the image files it references.
type Storage struct {
	Records RecordStore
	Images  *ImageStore
}

// Open creates the SQLite metadata store and the filesystem image store.
func Open(dbPath, imagesPath string) (*Storage, error) {
	images, err := NewImageStore(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create image storage: %w", err)
	}
	records, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite storage: %w", err)
	}
	return &Storage{Records: records, Images: images}, nil
}

func (s *Storage) Close() error {
	return s.Records.Close()
}
