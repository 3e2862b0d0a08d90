package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/richinex/relay/model"
)

// DefaultMaxAttachmentBytes bounds attachment reads.
const DefaultMaxAttachmentBytes = 10 << 20

// DiskReader reads attachments from the local filesystem by Path.
type DiskReader struct {
	// Root is joined with relative attachment paths.
	Root         string
	MaxSizeBytes int64
}

// NewDiskReader creates a reader resolving relative paths against root.
func NewDiskReader(root string) *DiskReader {
	return &DiskReader{Root: root, MaxSizeBytes: DefaultMaxAttachmentBytes}
}

// ReadText returns the file contents as text. Binary files are rejected.
func (r *DiskReader) ReadText(ctx context.Context, a model.Attachment) (string, error) {
	data, err := r.ReadBytes(ctx, a)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", a.Name)
	}
	return string(data), nil
}

// ReadBytes returns the raw file contents.
func (r *DiskReader) ReadBytes(ctx context.Context, a model.Attachment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := a.Path
	if path == "" {
		return nil, fmt.Errorf("attachment %s has no path", a.Name)
	}
	if !filepath.IsAbs(path) && r.Root != "" {
		path = filepath.Join(r.Root, path)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file metadata: %w", err)
	}
	limit := r.MaxSizeBytes
	if limit <= 0 {
		limit = DefaultMaxAttachmentBytes
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), limit)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Verify DiskReader implements AttachmentReader
var _ AttachmentReader = (*DiskReader)(nil)
