package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DiskSink writes uploads below a local directory.
type DiskSink struct {
	root string
}

func NewDiskSink(root string) (*DiskSink, error) {
	for _, kind := range []Kind{KindProfile, KindContent} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &DiskSink{root: root}, nil
}

func (s *DiskSink) Save(ctx context.Context, kind Kind, r io.Reader, limit int64) (string, error) {
	img, err := Read(kind, r, limit)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(s.root, filepath.FromSlash(img.ObjectName))
	if err := os.WriteFile(target, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return publicPath(img.ObjectName), nil
}

func (s *DiskSink) Handler() http.Handler {
	return http.FileServer(filesOnly{http.Dir(s.root)})
}

// filesOnly hides directories so the file server never lists them.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
