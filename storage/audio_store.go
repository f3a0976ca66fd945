package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AudioStore preserves a job's uploaded source audio past job
// completion. It is only consulted for jobs submitted with keep_audio,
// and it must copy before the orchestrator deletes the upload.
type AudioStore interface {
	// Preserve copies the audio file to durable storage and returns a
	// reference to the stored object.
	Preserve(ctx context.Context, jobID, audioPath string) (string, error)
}

// LocalStore keeps preserved audio on the local filesystem.
type LocalStore struct {
	Dir string
}

// NewLocalStore creates a filesystem-backed audio store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio store dir: %w", err)
	}
	return &LocalStore{Dir: dir}, nil
}

func (s *LocalStore) Preserve(ctx context.Context, jobID, audioPath string) (string, error) {
	src, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer src.Close()

	outPath := filepath.Join(s.Dir, jobID+audioExt(audioPath))
	dst, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create preserved audio: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("copy audio: %w", err)
	}
	return outPath, nil
}

// S3Store uploads preserved audio to an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed audio store using ambient AWS
// credentials.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) Preserve(ctx context.Context, jobID, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	ext := audioExt(audioPath)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := s.prefix + jobID + ext
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload audio to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// audioExt keeps the upload's extension on the preserved copy.
func audioExt(audioPath string) string {
	if ext := filepath.Ext(audioPath); ext != "" {
		return ext
	}
	return ".audio"
}
