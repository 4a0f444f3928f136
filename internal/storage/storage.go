// Package storage keeps generated QR images and guest photos on local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.GetTracerProvider().Tracer("github.com/immxrtalbeast/checkin/internal/storage")

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

const (
	QRDir    = "qr_codes"
	PhotoDir = "photos"
)

// QRName is the artifact name of the QR image for token.
func QRName(token string) string {
	return path.Join(QRDir, "qr_"+token+".png")
}

// PhotoName is the artifact name of a guest photo.
func PhotoName(guestID string) string {
	return path.Join(PhotoDir, guestID+".png")
}

// FileStore stores artifacts below root. Refs returned by Save are slash
// separated names relative to root and are served under urlPrefix.
type FileStore struct {
	root      string
	urlPrefix string
}

func NewFileStore(root, urlPrefix string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	for _, dir := range []string{QRDir, PhotoDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (s *FileStore) Root() string {
	return s.root
}

// Save writes data under name, replacing any previous content atomically.
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "FileStore.Save")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.name", name), attribute.Int("artifact.size", len(data)))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		span.RecordError(err)
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		span.RecordError(err)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		span.RecordError(err)
		return "", err
	}
	return name, nil
}

func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes ref. Removing a missing artifact is not an error.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "FileStore.Delete")
	defer span.End()

	if ref == "" {
		return nil
	}
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		span.RecordError(err)
		return err
	}
	return nil
}

// URL returns the public path of ref, or "" for an empty ref.
func (s *FileStore) URL(ref string) string {
	if ref == "" {
		return ""
	}
	return s.urlPrefix + "/" + strings.TrimPrefix(ref, "/")
}

func (s *FileStore) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if name == "" || clean == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}
