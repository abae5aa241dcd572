package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/itish2003/cyberrag/config"
)

// CorpusEntry is one listed object of a corpus source.
type CorpusEntry struct {
	// Key identifies the entry to Open.
	Key string
	// Source is what ends up in Document.Source.
	Source string
}

// CorpusSource lists and opens the raw entries of a corpus location.
type CorpusSource interface {
	Location() string
	// List fails only when the location itself is missing or unreadable.
	List(ctx context.Context) ([]CorpusEntry, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewCorpusSource builds the source selected by cfg.Source.
func NewCorpusSource(ctx context.Context, cfg config.CorpusConfig) (CorpusSource, error) {
	switch cfg.Source {
	case "dir":
		return NewDirectorySource(cfg.Dir), nil
	case "minio":
		client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv(cfg.Minio.AccessKeyEnv), os.Getenv(cfg.Minio.SecretKeyEnv), ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
		return NewMinioSource(client, cfg.Bucket, cfg.Prefix), nil
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewS3Source(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown corpus source %q", cfg.Source)
	}
}

// DirectorySource reads a local directory tree.
type DirectorySource struct {
	root string
}

func NewDirectorySource(root string) *DirectorySource {
	return &DirectorySource{root: root}
}

func (d *DirectorySource) Location() string { return d.root }

// Root is the watched directory.
func (d *DirectorySource) Root() string { return d.root }

// List walks the tree. Unreadable subdirectories are skipped; entries that
// cannot be stat'ed (broken symlinks) are still listed so that Open reports them.
func (d *DirectorySource) List(_ context.Context) ([]CorpusEntry, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", d.root)
	}

	var entries []CorpusEntry
	err = filepath.WalkDir(d.root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			if p == d.root {
				return err
			}
			if de != nil && de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if de.IsDir() {
			return nil
		}
		entries = append(entries, CorpusEntry{Key: p, Source: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *DirectorySource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(key)
}

// MinioSource reads objects from a MinIO or other S3-compatible bucket.
type MinioSource struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioSource(client *minio.Client, bucket, prefix string) *MinioSource {
	return &MinioSource{client: client, bucket: bucket, prefix: prefix}
}

func (m *MinioSource) Location() string { return objectURI(m.bucket, m.prefix) }

func (m *MinioSource) List(ctx context.Context) ([]CorpusEntry, error) {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", m.bucket)
	}

	var entries []CorpusEntry
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		entries = append(entries, CorpusEntry{Key: obj.Key, Source: objectURI(m.bucket, obj.Key)})
	}
	return entries, nil
}

func (m *MinioSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

// S3Source reads objects from an AWS S3 bucket using the default credential chain.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Source(client *s3.Client, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Source) Location() string { return objectURI(s.bucket, s.prefix) }

func (s *S3Source) List(ctx context.Context) ([]CorpusEntry, error) {
	var entries []CorpusEntry
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, CorpusEntry{Key: key, Source: objectURI(s.bucket, key)})
		}
	}
	return entries, nil
}

func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	if out.Body == nil {
		return nil, errors.New("empty object body")
	}
	return out.Body, nil
}

func objectURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
