package s3backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sir_venger/docupload/internal/transport"
)

func newToken() string {
	return uuid.NewString()
}

// staged lists the session's parts ordered by offset together with every
// object under its prefix.
func (b *Backend) staged(ctx context.Context, token string) ([]transport.StagedPart, []types.Object, error) {
	prefix := b.stagingPrefix(token)
	objs, err := b.listKeys(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}

	var st transport.Staging
	for _, o := range objs {
		st.Add(prefix, aws.ToString(o.Key), aws.ToInt64(o.Size))
	}
	parts, err := st.Sorted(token)
	if err != nil {
		return nil, nil, fmt.Errorf("s3: %w", err)
	}
	return parts, objs, nil
}

// Append stores data as the staging object at offset. Sending an offset that
// already holds a part replaces it and drops everything after it.
func (b *Backend) Append(ctx context.Context, token string, offset int64, data []byte) error {
	parts, _, err := b.staged(ctx, token)
	if err != nil {
		return err
	}

	stale, err := transport.PlanAppend(parts, offset)
	if err != nil {
		return fmt.Errorf("s3 append %s: %w", token, err)
	}
	if len(stale) > 0 {
		objs := make([]types.Object, 0, len(stale))
		for _, p := range stale {
			objs = append(objs, types.Object{Key: aws.String(p.Key)})
		}
		if err := b.deleteKeys(ctx, objs); err != nil {
			return err
		}
	}

	_, err = b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.stagingKey(token, offset)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return mapErr("append "+token, err)
}

// Close assembles the staged parts into path and removes the staging objects.
func (b *Backend) Close(ctx context.Context, token string, offset int64, p string, opts transport.CommitOptions) (transport.ObjectHandle, error) {
	parts, objs, err := b.staged(ctx, token)
	if err != nil {
		return transport.ObjectHandle{}, err
	}

	if err := transport.CheckComplete(parts, offset); err != nil {
		return transport.ObjectHandle{}, fmt.Errorf("s3 close %s: %w", token, err)
	}

	dst, err := transport.ResolveAutorename(ctx, p, opts.Autorename, b.exists)
	if err != nil {
		return transport.ObjectHandle{}, err
	}
	key := b.objectKey(dst)
	modified := modifiedAt(opts)
	meta := map[string]string{metaModifiedAt: modified.Format(time.RFC3339)}

	var etag string
	if transport.Composable(parts) {
		etag, err = b.composeMultipart(ctx, key, parts, meta)
	} else {
		etag, err = b.composeSpooled(ctx, key, parts, offset, meta)
	}
	if err != nil {
		return transport.ObjectHandle{}, err
	}

	if err := b.deleteKeys(ctx, objs); err != nil {
		b.log.Warn().Err(err).Str("token", token).Msg("staging cleanup failed")
	}

	return transport.ObjectHandle{
		Path:       path.Clean("/" + dst),
		Size:       offset,
		Revision:   strings.Trim(etag, `"`),
		ModifiedAt: modified,
	}, nil
}

func (b *Backend) composeMultipart(ctx context.Context, key string, parts []transport.StagedPart, meta map[string]string) (string, error) {
	created, err := b.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		Metadata: meta,
	})
	if err != nil {
		return "", mapErr("create multipart", err)
	}
	uploadID := created.UploadId

	completed := make([]types.CompletedPart, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyParallel)
	for i, part := range parts {
		g.Go(func() error {
			num := aws.Int32(int32(i + 1))
			out, err := b.api.UploadPartCopy(gctx, &s3.UploadPartCopyInput{
				Bucket:     aws.String(b.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: num,
				CopySource: aws.String(b.copySource(part.Key)),
			})
			if err != nil {
				return mapErr("upload part copy", err)
			}
			var etag *string
			if out.CopyPartResult != nil {
				etag = out.CopyPartResult.ETag
			}
			completed[i] = types.CompletedPart{ETag: etag, PartNumber: num}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.abortMultipart(key, uploadID)
		return "", err
	}

	done, err := b.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		b.abortMultipart(key, uploadID)
		return "", mapErr("complete multipart", err)
	}
	return aws.ToString(done.ETag), nil
}

func (b *Backend) abortMultipart(key string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("abort multipart upload")
	}
}

// composeSpooled concatenates the parts into a temp file and uploads it in one PutObject.
func (b *Backend) composeSpooled(ctx context.Context, key string, parts []transport.StagedPart, size int64, meta map[string]string) (string, error) {
	spool, err := os.CreateTemp("", "docupload-s3-*")
	if err != nil {
		return "", err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	for _, part := range parts {
		out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(part.Key),
		})
		if err != nil {
			return "", mapErr("get staging part", err)
		}
		_, err = io.Copy(spool, out.Body)
		out.Body.Close()
		if err != nil {
			return "", fmt.Errorf("s3 spool %s: %w", part.Key, err)
		}
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	out, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(size),
		Metadata:      meta,
	})
	if err != nil {
		return "", mapErr("put "+key, err)
	}
	return aws.ToString(out.ETag), nil
}
