// Package attachments stores uploaded files on the local filesystem and
// resolves stored references back to paths for outgoing mail.
package attachments

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ingeniumai/outreach/internal/models"
)

// DefaultMaxSize is the upload limit when none is configured.
const DefaultMaxSize = 25 << 20

var (
	ErrTooLarge    = errors.New("attachment exceeds size limit")
	ErrEmpty       = errors.New("attachment is empty")
	ErrInvalidName = errors.New("invalid attachment name")
	ErrNotFound    = errors.New("attachment not found")
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true, ".svg": true,
}

// Store keeps uploads in a single directory under generated names.
type Store struct {
	dir     string
	baseURL string
	maxSize int64
}

// New returns a Store rooted at dir, creating it if needed. baseURL is the
// public prefix stored files are served under.
func New(dir, baseURL string, maxSize int64) (*Store, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: abs, baseURL: strings.TrimRight(baseURL, "/"), maxSize: maxSize}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxSize returns the upload limit in bytes.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Save writes r under a fresh name and returns the reference to put on a
// message. The declared MIME type is replaced by the sniffed one when the
// content is recognised.
func (s *Store) Save(originalName, declaredType string, r io.Reader) (models.Attachment, error) {
	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return models.Attachment{}, ErrInvalidName
	}

	ext := strings.ToLower(filepath.Ext(name))
	id := uuid.NewString()
	stored := id + ext

	f, err := os.OpenFile(filepath.Join(s.dir, stored), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("create attachment file: %w", err)
	}

	var head bytes.Buffer
	n, err := io.Copy(io.MultiWriter(f, &limitedBuffer{buf: &head, max: 3072}), io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		s.remove(stored)
		return models.Attachment{}, fmt.Errorf("write attachment: %w", err)
	case n > s.maxSize:
		s.remove(stored)
		return models.Attachment{}, ErrTooLarge
	case n == 0:
		s.remove(stored)
		return models.Attachment{}, ErrEmpty
	}

	mimeType := declaredType
	if detected := mimetype.Detect(head.Bytes()); detected != nil && !detected.Is("application/octet-stream") {
		mimeType = detected.String()
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return models.Attachment{
		ID:       id,
		Name:     name,
		Size:     humanize.Bytes(uint64(n)),
		Type:     Classify(name),
		URL:      s.baseURL + "/" + stored,
		MimeType: mimeType,
	}, nil
}

// Resolve maps a stored reference (its URL or bare stored name) to a path
// inside the storage directory.
func (s *Store) Resolve(ref string) (string, error) {
	name := path.Base(strings.TrimSpace(ref))
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `\`) {
		return "", ErrInvalidName
	}

	p := filepath.Join(s.dir, name)
	if rel, err := filepath.Rel(s.dir, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidName
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// Open opens a stored file by name for serving.
func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (s *Store) remove(stored string) {
	_ = os.Remove(filepath.Join(s.dir, stored))
}

// Classify derives the coarse attachment type from a file name.
func Classify(name string) models.AttachmentType {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return models.AttachmentPDF
	case imageExtensions[ext]:
		return models.AttachmentImage
	default:
		return models.AttachmentDocument
	}
}

// limitedBuffer keeps the first max bytes written to it for sniffing.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		l.buf.Write(p[:room])
	}
	return len(p), nil
}
