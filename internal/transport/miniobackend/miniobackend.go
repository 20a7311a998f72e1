// Package miniobackend implements transport.Adapter on a MinIO bucket with the
// same staging layout as the S3 backend. Assembly uses ComposeObject when the
// parts qualify and a streamed PutObject otherwise.
package miniobackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/transport"
)

const metaModifiedAt = "Modified-At"

// Backend stores sessions and objects in one MinIO bucket.
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// New connects to MinIO with static credentials.
func New(cfg config.Minio, log zerolog.Logger) (*Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

var (
	_ transport.Adapter = (*Backend)(nil)
	_ transport.Pinger  = (*Backend)(nil)
)

// EnsureBucket creates the bucket when it does not exist yet.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return mapErr("bucket exists", err)
	}
	if ok {
		return nil
	}
	return mapErr("make bucket", b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}))
}

func (b *Backend) key(parts ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{"/", b.prefix}, parts...)...), "/")
}

func (b *Backend) objectKey(p string) string {
	return b.key(path.Clean("/" + p))
}

func (b *Backend) stagingPrefix(token string) string {
	return b.key(transport.StagingDir, token) + "/"
}

func (b *Backend) OpenSession(ctx context.Context) (string, error) {
	token := uuid.NewString()
	_, err := b.client.PutObject(ctx, b.bucket, b.stagingPrefix(token)+transport.StagingMarker,
		strings.NewReader(""), 0, minio.PutObjectOptions{})
	if err != nil {
		return "", mapErr("open session", err)
	}
	return token, nil
}

func (b *Backend) staged(ctx context.Context, token string) ([]transport.StagedPart, []string, error) {
	prefix := b.stagingPrefix(token)
	var (
		st   transport.Staging
		keys []string
	)
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, nil, mapErr("list "+prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
		st.Add(prefix, obj.Key, obj.Size)
	}
	parts, err := st.Sorted(token)
	if err != nil {
		return nil, nil, fmt.Errorf("minio: %w", err)
	}
	return parts, keys, nil
}

func (b *Backend) Append(ctx context.Context, token string, offset int64, data []byte) error {
	parts, _, err := b.staged(ctx, token)
	if err != nil {
		return err
	}
	stale, err := transport.PlanAppend(parts, offset)
	if err != nil {
		return fmt.Errorf("minio append %s: %w", token, err)
	}
	for _, p := range stale {
		if err := b.client.RemoveObject(ctx, b.bucket, p.Key, minio.RemoveObjectOptions{}); err != nil {
			return mapErr("remove stale part", err)
		}
	}

	_, err = b.client.PutObject(ctx, b.bucket, b.stagingPrefix(token)+transport.StagingName(offset),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return mapErr("append "+token, err)
}

func (b *Backend) Close(ctx context.Context, token string, offset int64, p string, opts transport.CommitOptions) (transport.ObjectHandle, error) {
	parts, keys, err := b.staged(ctx, token)
	if err != nil {
		return transport.ObjectHandle{}, err
	}
	if err := transport.CheckComplete(parts, offset); err != nil {
		return transport.ObjectHandle{}, fmt.Errorf("minio close %s: %w", token, err)
	}

	dst, err := transport.ResolveAutorename(ctx, p, opts.Autorename, b.exists)
	if err != nil {
		return transport.ObjectHandle{}, err
	}
	key := b.objectKey(dst)
	modified := opts.ModifiedAt.UTC()
	if opts.ModifiedAt.IsZero() {
		modified = time.Now().UTC()
	}
	meta := map[string]string{metaModifiedAt: modified.Format(time.RFC3339)}

	var info minio.UploadInfo
	if transport.Composable(parts) {
		srcs := make([]minio.CopySrcOptions, 0, len(parts))
		for _, part := range parts {
			srcs = append(srcs, minio.CopySrcOptions{Bucket: b.bucket, Object: part.Key})
		}
		info, err = b.client.ComposeObject(ctx, minio.CopyDestOptions{
			Bucket:          b.bucket,
			Object:          key,
			UserMetadata:    meta,
			ReplaceMetadata: true,
		}, srcs...)
	} else {
		readers := make([]io.Reader, 0, len(parts))
		for _, part := range parts {
			obj, err := b.client.GetObject(ctx, b.bucket, part.Key, minio.GetObjectOptions{})
			if err != nil {
				return transport.ObjectHandle{}, mapErr("get staging part", err)
			}
			defer obj.Close()
			readers = append(readers, obj)
		}
		info, err = b.client.PutObject(ctx, b.bucket, key, io.MultiReader(readers...), offset,
			minio.PutObjectOptions{UserMetadata: meta})
	}
	if err != nil {
		return transport.ObjectHandle{}, mapErr("assemble "+key, err)
	}

	for _, k := range keys {
		if err := b.client.RemoveObject(ctx, b.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			b.log.Warn().Err(err).Str("key", k).Msg("staging cleanup failed")
		}
	}

	return transport.ObjectHandle{
		Path:       path.Clean("/" + dst),
		Size:       offset,
		Revision:   info.ETag,
		ModifiedAt: modified,
	}, nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) (transport.ObjectHandle, error) {
	info, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: b.objectKey(dst)},
		minio.CopySrcOptions{Bucket: b.bucket, Object: b.objectKey(src)},
	)
	if err != nil {
		return transport.ObjectHandle{}, mapErr("copy "+src, err)
	}
	return transport.ObjectHandle{
		Path:       path.Clean("/" + dst),
		Size:       info.Size,
		Revision:   info.ETag,
		ModifiedAt: info.LastModified,
	}, nil
}

func (b *Backend) Abort(ctx context.Context, token string) error {
	_, keys, err := b.staged(ctx, token)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.client.RemoveObject(ctx, b.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return mapErr("abort "+token, err)
		}
	}
	return nil
}

// Ping checks that the bucket exists.
func (b *Backend) Ping(ctx context.Context) error {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return mapErr("bucket exists", err)
	}
	if !ok {
		return fmt.Errorf("minio bucket %s: %w", b.bucket, transport.ErrNotFound)
	}
	return nil
}

func (b *Backend) exists(ctx context.Context, p string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.objectKey(p), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if errors.Is(mapErr("", err), transport.ErrNotFound) {
		return false, nil
	}
	return false, mapErr("stat "+p, err)
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("minio %s: %w: %v", op, transport.ErrNotFound, err)
	}
	return fmt.Errorf("minio %s: %w", op, err)
}
