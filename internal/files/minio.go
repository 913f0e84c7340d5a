// Package files stores uploaded attachments and avatars in an
// S3-compatible object store and hands back public URLs.
package files

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"huddle/api/internal/util"
)

// Config holds the object store connection settings. An empty
// endpoint leaves the service unconfigured; uploads then fail with a
// clear error instead of a dial timeout.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the endpoint in returned URLs, for setups
	// where downloads go through a CDN or reverse proxy.
	PublicURL string
}

type Service struct {
	client *minio.Client
	config Config
	logger *zap.Logger
}

func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{config: config, logger: logger}
	if config.Endpoint == "" {
		return s, nil
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *Service) IsConfigured() bool {
	return s.client != nil
}

// EnsureBucket creates the bucket if missing and opens it for
// anonymous downloads, so the URLs this service returns resolve
// without signing.
func (s *Service) EnsureBucket(ctx context.Context) error {
	if !s.IsConfigured() {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.logger.Info("created upload bucket", zap.String("bucket", s.config.Bucket))
	}

	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.config.Bucket)
	if err := s.client.SetBucketPolicy(ctx, s.config.Bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

// Upload streams one object under folder/ and returns its public URL.
// The original file name is kept as the last path segment so browser
// downloads get a sensible name.
func (s *Service) Upload(ctx context.Context, folder, fileName, contentType string, size int64, r io.Reader) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("file storage not configured")
	}

	name := sanitizeFileName(fileName)
	objectName := folder + "/" + util.NewID("obj") + "/" + name
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.config.Bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}

	s.logger.Info("uploaded object",
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)
	return s.publicURL(objectName), nil
}

func (s *Service) publicURL(objectName string) string {
	escaped := escapePath(s.config.Bucket + "/" + objectName)
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/") + "/" + escaped
	}
	scheme := "http"
	if s.config.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + s.config.Endpoint + "/" + escaped
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// sanitizeFileName strips directory components and characters that
// break URL or header handling.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ':
			return '-'
		case '#', '?', '%', '"', '\'':
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return name
}
