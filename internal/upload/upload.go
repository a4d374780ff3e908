// Package upload stores user-supplied images and serves them back read-only.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"agora/api/internal/util"
)

// Kind selects the directory an upload lands in.
type Kind string

const (
	KindProfile Kind = "profiles"
	KindContent Kind = "images"
)

const (
	ProfileLimit int64 = 5 << 20
	ContentLimit int64 = 10 << 20
)

// PublicPrefix is where stored files are served.
const PublicPrefix = "/uploads/"

var (
	ErrTooLarge = errors.New("file is too large")
	ErrNotImage = errors.New("only jpeg, png, gif and webp images are allowed")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Sink stores bytes and returns a path under PublicPrefix.
type Sink interface {
	Save(ctx context.Context, kind Kind, r io.Reader, limit int64) (string, error)
	// Handler serves stored files. Requests arrive with PublicPrefix stripped.
	Handler() http.Handler
}

// Image is an upload that passed validation.
type Image struct {
	Data        []byte
	ContentType string
	ObjectName  string
}

// Read buffers at most limit bytes of r and checks that they are an image.
func Read(kind Kind, r io.Reader, limit int64) (Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Image{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return Image{}, ErrTooLarge
	}
	if len(data) == 0 {
		return Image{}, ErrNotImage
	}

	contentType := http.DetectContentType(data)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := extensions[contentType]
	if !ok {
		return Image{}, ErrNotImage
	}

	return Image{
		Data:        data,
		ContentType: contentType,
		ObjectName:  string(kind) + "/" + util.NewID() + ext,
	}, nil
}

// Reader returns a fresh reader over the image bytes.
func (img Image) Reader() io.Reader {
	return bytes.NewReader(img.Data)
}

func publicPath(objectName string) string {
	return PublicPrefix + objectName
}

// cleanObjectName maps a request path to an object name, rejecting anything
// that escapes the upload root.
func cleanObjectName(raw string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if name == "" || name == "." || strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}
