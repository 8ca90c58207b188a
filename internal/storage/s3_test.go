package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/puppals/mediastore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpload struct {
	key       string
	parts     map[int32][]byte
	initiated time.Time
}

// fakeS3 is an in-memory bucket honouring the calls S3BlobStore makes.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]*fakeUpload
	nextID    int
	partSizes []int
	aborted   int

	failPart    int32 // UploadPart fails for this part number
	preempt     bool  // another writer completes the key first
	bucketExist bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, uploads: map[string]*fakeUpload{}}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExist {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.bucketExist = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(time.Now())}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) put(key string, data []byte) error {
	if f.preempt {
		f.objects[key] = []byte("someone else")
	}
	if _, ok := f.objects[key]; ok {
		return &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err = f.put(aws.ToString(in.Key), data)
	if err != nil {
		return nil, err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{key: aws.ToString(in.Key), parts: map[int32][]byte{}, initiated: time.Now()}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if aws.ToInt32(in.PartNumber) == f.failPart {
		return nil, errors.New("part upload failed")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	u.parts[aws.ToInt32(in.PartNumber)] = data
	f.partSizes = append(f.partSizes, len(data))
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	u, ok := f.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(u.parts[aws.ToInt32(p.PartNumber)])
	}
	err := f.put(u.key, buf.Bytes())
	if err != nil {
		return nil, err
	}
	delete(f.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(false)}
	for id, u := range f.uploads {
		if !strings.HasPrefix(u.key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Uploads = append(out.Uploads, types.MultipartUpload{
			Key:       aws.String(u.key),
			UploadId:  aws.String(id),
			Initiated: aws.Time(u.initiated),
		})
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Now()),
		})
	}
	return out, nil
}

const partSize = 5 << 20

func TestS3BlobStore_SmallObjectUsesPut(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", 0)

	obj, err := store.Write(ctx, "a.png", strings.NewReader("tiny"))
	require.NoError(t, err)
	assert.Equal(t, "media/a.png", obj.Ref)
	assert.Equal(t, int64(4), obj.Size)
	assert.Empty(t, fake.partSizes)

	rc, err := store.Open(ctx, "a.png")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
}

func TestS3BlobStore_MultipartChunks(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", partSize)

	data := bytes.Repeat([]byte("0123456789"), (2*partSize+100)/10)
	obj, err := store.Write(ctx, "big.mp4", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)
	assert.Equal(t, []int{partSize, partSize, len(data) - 2*partSize}, fake.partSizes)
	assert.Equal(t, data, fake.objects["media/big.mp4"])
	assert.Empty(t, fake.uploads)
}

func TestS3BlobStore_ExactPartMultiple(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := storage.NewS3BlobStoreWithClient(fake, "media", "", partSize)

	data := bytes.Repeat([]byte{7}, 2*partSize)
	_, err := store.Write(ctx, "even.mov", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []int{partSize, partSize}, fake.partSizes)
	assert.Equal(t, data, fake.objects["even.mov"])
}

func TestS3BlobStore_FailedPartAborts(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.failPart = 2
	store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", partSize)

	_, err := store.Write(ctx, "x.avi", bytes.NewReader(make([]byte, 3*partSize)))
	require.Error(t, err)
	assert.Equal(t, 1, fake.aborted)
	assert.Empty(t, fake.uploads)

	_, err = store.Stat(ctx, "x.avi")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestS3BlobStore_TruncatedSourceIsNotCommitted(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		size    int
		aborted int
	}{
		{"inside first part", 3000, 0},
		{"inside later part", partSize + 3000, 1},
		{"on part boundary", partSize, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeS3()
			store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", partSize)

			src := io.MultiReader(bytes.NewReader(make([]byte, tt.size)), iotest.ErrReader(io.ErrUnexpectedEOF))
			_, err := store.Write(ctx, "cut.mp4", src)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

			assert.Empty(t, fake.objects)
			assert.Empty(t, fake.uploads)
			assert.Equal(t, tt.aborted, fake.aborted)
		})
	}
}

func TestS3BlobStore_NameTaken(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", partSize)

	_, err := store.Write(ctx, "a.png", strings.NewReader("one"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "a.png", strings.NewReader("two"))
	assert.ErrorIs(t, err, storage.ErrNameTaken)

	// Lost race detected at completion time
	fake.preempt = true
	_, err = store.Write(ctx, "b.png", bytes.NewReader(make([]byte, partSize+1)))
	assert.ErrorIs(t, err, storage.ErrNameTaken)
	assert.Equal(t, 1, fake.aborted)
}

func TestS3BlobStore_DeleteWalkPurge(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := storage.NewS3BlobStoreWithClient(fake, "media", "media/", partSize)

	a, err := store.Write(ctx, "a.png", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "b.png", strings.NewReader("b"))
	require.NoError(t, err)
	fake.objects["other/c.png"] = []byte("c")

	require.NoError(t, store.Delete(ctx, a.Ref))
	require.NoError(t, store.Delete(ctx, a.Ref))

	var names []string
	err = store.Walk(ctx, func(o storage.Object) error {
		names = append(names, o.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png"}, names)

	_, err = fake.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{Key: aws.String("media/stale.mp4")})
	require.NoError(t, err)
	fake.uploads["upload-1"].initiated = time.Now().Add(-2 * time.Hour)
	_, err = fake.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{Key: aws.String("media/fresh.mp4")})
	require.NoError(t, err)

	n, err := store.PurgeIncomplete(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, fake.uploads, 1)
}
