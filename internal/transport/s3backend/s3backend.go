// Package s3backend implements transport.Adapter on top of Amazon S3.
//
// S3 has no append, so every chunk is stored as a staging object under
// {prefix}/.staging/{token}/{offset:020d}. Close assembles the staging objects
// into the destination: with UploadPartCopy when every non-final part meets the
// 5 MiB multipart minimum, otherwise through a local spool file and PutObject.
package s3backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/transport"
)

const (
	deleteBatch  = 1000
	copyParallel = 4

	metaModifiedAt = "modified-at"
)

// API is the subset of the S3 client the backend needs.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend stores sessions and objects in one bucket.
type Backend struct {
	api    API
	bucket string
	prefix string
	log    zerolog.Logger
}

// New wraps an existing S3 API implementation.
func New(api API, bucket, prefix string, log zerolog.Logger) *Backend {
	return &Backend{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}
}

// NewFromConfig loads AWS credentials from the default chain.
func NewFromConfig(ctx context.Context, cfg config.S3, log zerolog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return New(client, cfg.Bucket, cfg.Prefix, log), nil
}

var (
	_ transport.Adapter = (*Backend)(nil)
	_ transport.Pinger  = (*Backend)(nil)
)

func (b *Backend) key(parts ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{"/", b.prefix}, parts...)...), "/")
}

func (b *Backend) objectKey(p string) string {
	return b.key(path.Clean("/" + p))
}

func (b *Backend) stagingPrefix(token string) string {
	return b.key(transport.StagingDir, token) + "/"
}

func (b *Backend) stagingKey(token string, offset int64) string {
	return b.stagingPrefix(token) + transport.StagingName(offset)
}

func (b *Backend) copySource(key string) string {
	return (&url.URL{Path: b.bucket + "/" + key}).EscapedPath()
}

// OpenSession writes the session marker and returns a fresh token.
func (b *Backend) OpenSession(ctx context.Context) (string, error) {
	token := newToken()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.stagingPrefix(token) + transport.StagingMarker),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", mapErr("open session", err)
	}
	return token, nil
}

// Copy duplicates a committed object server side.
func (b *Backend) Copy(ctx context.Context, src, dst string) (transport.ObjectHandle, error) {
	srcKey := b.objectKey(src)
	out, err := b.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(b.objectKey(dst)),
		CopySource: aws.String(b.copySource(srcKey)),
	})
	if err != nil {
		return transport.ObjectHandle{}, mapErr("copy "+src, err)
	}

	head, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(dst)),
	})
	if err != nil {
		return transport.ObjectHandle{}, mapErr("head "+dst, err)
	}

	h := transport.ObjectHandle{
		Path:       path.Clean("/" + dst),
		Size:       aws.ToInt64(head.ContentLength),
		ModifiedAt: aws.ToTime(head.LastModified),
	}
	if out.CopyObjectResult != nil {
		h.Revision = strings.Trim(aws.ToString(out.CopyObjectResult.ETag), `"`)
	}
	return h, nil
}

// Abort removes every staging object of the session.
func (b *Backend) Abort(ctx context.Context, token string) error {
	keys, err := b.listKeys(ctx, b.stagingPrefix(token))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("s3 abort %s: %w", token, transport.ErrNotFound)
	}
	return b.deleteKeys(ctx, keys)
}

// Ping checks that the bucket is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return mapErr("head bucket", err)
}

func (b *Backend) exists(ctx context.Context, p string) (bool, error) {
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(mapErr("", err), transport.ErrNotFound) {
		return false, nil
	}
	return false, mapErr("head "+p, err)
}

func (b *Backend) listKeys(ctx context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	pager := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list "+prefix, err)
		}
		out = append(out, page.Contents...)
	}
	return out, nil
}

func (b *Backend) deleteKeys(ctx context.Context, objs []types.Object) error {
	for start := 0; start < len(objs); start += deleteBatch {
		batch := objs[start:min(start+deleteBatch, len(objs))]
		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, o := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: o.Key})
		}
		_, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapErr("delete staging", err)
		}
	}
	return nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
		noBucket *types.NoSuchBucket
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return fmt.Errorf("s3 %s: %w: %v", op, transport.ErrNotFound, err)
	}
	return fmt.Errorf("s3 %s: %w", op, err)
}

func modifiedAt(opts transport.CommitOptions) time.Time {
	if opts.ModifiedAt.IsZero() {
		return time.Now().UTC()
	}
	return opts.ModifiedAt.UTC()
}
