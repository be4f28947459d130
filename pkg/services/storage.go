package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrBadObjectPath = errors.New("invalid object path")

type StoredObject struct {
	Path      string `json:"storage_path"`
	PublicURL string `json:"public_url"`
	Size      int64  `json:"file_size"`
}

// Storage holds uploaded files under bucket-relative paths.
type Storage interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (*StoredObject, error)
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

func cleanObjectPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrBadObjectPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "" {
			return "", ErrBadObjectPath
		}
	}
	return path.Clean(p), nil
}

// SupabaseStorage talks to the platform's storage REST API.
type SupabaseStorage struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

func NewSupabaseStorage(baseURL, serviceKey, bucket string, client *http.Client) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  serviceKey,
		bucket:  bucket,
		client:  defaultClient(client),
	}
}

func (s *SupabaseStorage) objectURL(p string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, p)
}

func (s *SupabaseStorage) Put(ctx context.Context, objectPath string, data []byte, contentType string) (*StoredObject, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(p), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if _, err := do(s.client, req); err != nil {
		return nil, fmt.Errorf("storage upload: %w", err)
	}
	log.Printf("[storage] uploaded %s/%s (%d bytes)", s.bucket, p, len(data))
	return &StoredObject{Path: p, PublicURL: s.PublicURL(p), Size: int64(len(data))}, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, objectPath string) error {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(p), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("apikey", s.apiKey)
	if _, err := do(s.client, req); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("storage delete: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath)
}

// LocalStorage keeps objects on disk and serves them under /uploads.
type LocalStorage struct {
	basePath string
	baseURL  string
}

func NewLocalStorage(basePath, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(publicBaseURL, "/") + "/uploads",
	}, nil
}

func (s *LocalStorage) Put(_ context.Context, objectPath string, data []byte, _ string) (*StoredObject, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	return &StoredObject{Path: p, PublicURL: s.PublicURL(p), Size: int64(len(data))}, nil
}

func (s *LocalStorage) Delete(_ context.Context, objectPath string) error {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(p)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStorage) PublicURL(objectPath string) string {
	return s.baseURL + "/" + objectPath
}

func (s *LocalStorage) Dir() string { return s.basePath }
