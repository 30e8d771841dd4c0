package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3.
type S3API interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

// DownloaderConfig configures parallel ranged downloads of S3 objects.
type DownloaderConfig struct {
	// Concurrency is the number of concurrent download parts.
	// Default: max(4, NumCPU), at most 16.
	Concurrency int

	// PartSize is the size of each download part in bytes. Default: 16MB.
	PartSize int64

	// TempDir holds downloaded objects while they are read.
	// If empty, os.TempDir() is used.
	TempDir string
}

// DefaultDownloaderConfig returns defaults based on the current machine.
func DefaultDownloaderConfig() DownloaderConfig {
	concurrency := runtime.NumCPU()
	if concurrency < 4 {
		concurrency = 4
	}
	if concurrency > 16 {
		concurrency = 16
	}
	return DownloaderConfig{
		Concurrency: concurrency,
		PartSize:    16 * 1024 * 1024, // 16MB
	}
}

// S3 reads from a bucket prefix. Objects are downloaded to a temp file on
// Open, since granule decoding needs random access.
type S3 struct {
	api        S3API
	bucket     string
	prefix     string
	downloader *manager.Downloader
	tempDir    string
}

// NewS3FromDefaultConfig creates an S3 source using the default AWS
// credential chain.
func NewS3FromDefaultConfig(ctx context.Context, uri string, cfg DownloaderConfig) (*S3, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3(s3.NewFromConfig(awsCfg), uri, cfg)
}

// NewS3 creates an S3 source for an s3://bucket/prefix URI.
func NewS3(api S3API, uri string, cfg DownloaderConfig) (*S3, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	def := DefaultDownloaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}
	return &S3{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		downloader: manager.NewDownloader(api, func(d *manager.Downloader) {
			d.Concurrency = cfg.Concurrency
			d.PartSize = cfg.PartSize
		}),
		tempDir: cfg.TempDir,
	}, nil
}

func (s *S3) key(name string) string {
	return Join(s.prefix, name)
}

// URI returns the s3:// URI of name.
func (s *S3) URI(name string) string {
	return "s3://" + s.bucket + "/" + s.key(name)
}

// ReadDir lists the immediate children of dir sorted by name. A prefix with
// no objects is reported as not existing.
func (s *S3) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	prefix := s.key(dir)
	if prefix != "" {
		prefix += "/"
	}
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				out = append(out, Entry{Name: name, Dir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, Entry{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				ETag:    strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	if len(out) == 0 && dir != "" {
		return nil, &fs.PathError{Op: "readdir", Path: s.URI(dir), Err: fs.ErrNotExist}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Open downloads name to a temp file that is removed on Close.
func (s *S3) Open(ctx context.Context, name string) (Object, error) {
	f, err := os.CreateTemp(s.tempDir, "xopr-s3-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &fs.PathError{Op: "open", Path: s.URI(name), Err: fs.ErrNotExist}
		}
		return nil, fmt.Errorf("download %s: %w", s.URI(name), err)
	}
	return &tempObject{fileObject: fileObject{File: f, size: n}, path: f.Name()}, nil
}

// tempObject deletes its backing file on close.
type tempObject struct {
	fileObject
	path string
}

func (o *tempObject) Close() error {
	err := o.File.Close()
	os.Remove(o.path)
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// ParseS3URI parses an S3 URI (s3://bucket/key) into bucket and key components.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
