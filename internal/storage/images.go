package storage

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageStore keeps portrait bytes on disk under basePath. Refs are
// slash-separated paths relative to basePath: person/YYYY/MM/DD/<uuid>.<ext>.
type ImageStore struct {
	basePath string
}

func NewImageStore(basePath string) (*ImageStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("images path not configured")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve images path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &ImageStore{basePath: abs}, nil
}

func (s *ImageStore) BasePath() string { return s.basePath }

// Put writes data and returns its ref.
func (s *ImageStore) Put(person string, at time.Time, data []byte, mimeType string) (string, error) {
	if person == "" || strings.ContainsAny(person, `/\`) || person == "." || person == ".." {
		return "", fmt.Errorf("invalid person key %q", person)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty image")
	}
	ref := path.Join(
		person,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		uuid.New().String()+ExtensionFor(mimeType),
	)
	fullPath, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return ref, nil
}

func (s *ImageStore) Get(ref string) ([]byte, error) {
	fullPath, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the file behind ref; a missing file is not an error.
func (s *ImageStore) Delete(ref string) error {
	fullPath, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image %s: %w", ref, err)
	}
	return nil
}

// Path resolves ref to an absolute path, rejecting refs that escape basePath.
func (s *ImageStore) Path(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid image ref %q", ref)
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid image ref %q", ref)
	}
	return full, nil
}

// ReadBaseImage loads a person's configured base portrait and sniffs its MIME type.
func ReadBaseImage(filePath string) ([]byte, string, error) {
	if filePath == "" {
		return nil, "", fmt.Errorf("base image path not configured")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read base image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("base image %s is empty", filePath)
	}
	return data, http.DetectContentType(data), nil
}

func ExtensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
