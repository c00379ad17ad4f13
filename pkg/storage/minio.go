package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the file storage surface the upload endpoints need.
type ObjectStore interface {
	Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader, folder string) (*StoredFile, error)
	Delete(ctx context.Context, objectName string) error
	PublicURL(objectName string) string
}

// StoredFile describes one uploaded object. FileID is what messages carry
// as their attachment reference.
type StoredFile struct {
	FileID   uuid.UUID
	URL      string
	Key      string // object key in the bucket
	FileName string
	FileSize int64
	MimeType string
}

// MediaStore stores chat attachments in a MinIO bucket with public-read
// objects, so message payloads can carry plain URLs.
type MediaStore struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	publicURL string // external URL when the bucket sits behind a proxy
	useSSL    bool
}

// Config holds MinIO connection configuration.
type Config struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMediaStore connects to MinIO and ensures the bucket exists with a
// public-read policy.
func NewMediaStore(cfg Config) (*MediaStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("created MinIO bucket: %s", cfg.Bucket)

		policy := `{
			"Version": "2012-10-17",
			"Statement": [{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::` + cfg.Bucket + `/*"]
			}]
		}`
		if err := client.SetBucketPolicy(ctx, cfg.Bucket, policy); err != nil {
			log.Printf("failed to set bucket policy: %v", err)
		}
	}

	return &MediaStore{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  cfg.Endpoint,
		publicURL: cfg.PublicURL,
		useSSL:    cfg.UseSSL,
	}, nil
}

// Upload stores one attachment. The object key embeds the generated FileID,
// so the key can always be reconstructed from the message record.
func (s *MediaStore) Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader, folder string) (*StoredFile, error) {
	fileID := uuid.New()
	ext := filepath.Ext(header.Filename)
	key := fmt.Sprintf("%s/%s/%s%s",
		folder,
		time.Now().Format("2006/01/02"),
		fileID.String(),
		ext,
	)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = detectContentType(ext)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, file, header.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &StoredFile{
		FileID:   fileID,
		URL:      s.PublicURL(key),
		Key:      key,
		FileName: header.Filename,
		FileSize: header.Size,
		MimeType: contentType,
	}, nil
}

// Delete removes an object from the bucket.
func (s *MediaStore) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// PublicURL returns the externally reachable URL for an object.
func (s *MediaStore) PublicURL(objectName string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.publicURL, "/"), s.bucket, objectName)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectName)
}

// UploadFromReader stores an object from an io.Reader, for internal writes
// like seeded avatars.
func (s *MediaStore) UploadFromReader(ctx context.Context, reader io.Reader, size int64, objectName, contentType string) (*StoredFile, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &StoredFile{
		URL:      s.PublicURL(objectName),
		Key:      objectName,
		MimeType: contentType,
	}, nil
}

// detectContentType returns the MIME type for a file extension.
func detectContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".doc", ".docx":
		return "application/msword"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
