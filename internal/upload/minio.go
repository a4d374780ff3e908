package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"agora/api/internal/logging"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioSink stores uploads as objects in one bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
}

// NewMinioSink connects and creates the bucket when it does not exist.
func NewMinioSink(ctx context.Context, cfg MinioConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioSink{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioSink) Save(ctx context.Context, kind Kind, r io.Reader, limit int64) (string, error) {
	img, err := Read(kind, r, limit)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, img.ObjectName, img.Reader(), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType: img.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return publicPath(img.ObjectName), nil
}

func (s *MinioSink) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name, ok := cleanObjectName(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		obj, err := s.client.GetObject(r.Context(), s.bucket, name, minio.GetObjectOptions{})
		if err != nil {
			logging.Error().Err(err).Str("object", name).Msg("upload: get object")
			http.Error(w, "upload unavailable", http.StatusBadGateway)
			return
		}
		defer obj.Close()

		info, err := obj.Stat()
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				http.NotFound(w, r)
				return
			}
			logging.Error().Err(err).Str("object", name).Msg("upload: stat object")
			http.Error(w, "upload unavailable", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", info.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, obj); err != nil {
			logging.Debug().Err(err).Str("object", name).Msg("upload: stream interrupted")
		}
	})
}
