package s3backend

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory API. The *Func fields, when set, replace the
// default behaviour of the matching call.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	uploads  map[string]map[int32][]byte
	seq      int

	PartCopies int
	Aborted    []string

	UploadPartCopyFunc func(context.Context, *s3.UploadPartCopyInput, ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	PutObjectFunc      func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  map[string][]byte{},
		metadata: map[string]map[string]string{},
		uploads:  map[string]map[int32][]byte{},
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func sourceKey(bucket, copySource string) string {
	p, _ := url.PathUnescape(copySource)
	return strings.TrimPrefix(p, bucket+"/")
}

func etagOf(b []byte) *string {
	return aws.String(`"` + strings.Repeat("e", 4) + string(rune('a'+len(b)%26)) + `"`)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutObjectFunc != nil {
		return f.PutObjectFunc(ctx, in, opts...)
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{ETag: etagOf(b)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.object(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b, ok := f.object(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b))), LastModified: aws.Time(time.Now())}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	b, ok := f.object(sourceKey(aws.ToString(in.Bucket), aws.ToString(in.CopySource)))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), b...)
	f.mu.Unlock()
	return &s3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: etagOf(b)}}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var contents []types.Object
	for _, k := range f.keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		b, _ := f.object(k)
		contents = append(contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(b)))})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := "mp-" + string(rune('0'+f.seq))
	f.uploads[id] = map[int32][]byte{}
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	if f.UploadPartCopyFunc != nil {
		return f.UploadPartCopyFunc(ctx, in, opts...)
	}
	b, ok := f.object(sourceKey(aws.ToString(in.Bucket), aws.ToString(in.CopySource)))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PartCopies++
	f.uploads[aws.ToString(in.UploadId)][aws.ToInt32(in.PartNumber)] = b
	return &s3.UploadPartCopyOutput{CopyPartResult: &types.CopyPartResult{ETag: etagOf(b)}}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"multi-2"`)}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted = append(f.Aborted, aws.ToString(in.UploadId))
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}
