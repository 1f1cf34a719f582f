package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelfs/levelfs/pkg/types"
)

// fakeS3 is an in-memory bucket honoring Prefix, StartAfter, MaxKeys and
// continuation tokens.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	failPut  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 1000}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, aws.ToString(in.Prefix)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	after := aws.ToString(in.StartAfter)
	if in.ContinuationToken != nil {
		after = aws.ToString(in.ContinuationToken)
	}
	max := int(aws.ToInt32(in.MaxKeys))
	if max <= 0 || max > f.pageSize {
		max = f.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, name := range names {
		if after != "" && name <= after {
			continue
		}
		if len(out.Contents) == max {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(aws.ToString(out.Contents[len(out.Contents)-1].Key))
			break
		}
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(name)})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewWithClient(fake, "bucket", "levelfs/")

	key := []byte("foo\xfffoo1")
	require.NoError(t, store.Put(ctx, key, []byte("foobar")))

	_, stored := fake.objects["levelfs/666f6fff666f6f31"]
	assert.True(t, stored, "object name should be the hex encoded key under the prefix")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(got))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	m := store.GetMetrics()
	assert.Equal(t, int64(4), m.Requests)
	assert.Equal(t, int64(0), m.Errors)
	assert.Equal(t, int64(6), m.BytesUploaded)
}

func TestStoreKeysPreservesOrderAndPrefix(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.pageSize = 2
	store := NewWithClient(fake, "bucket", "")

	raw := []string{"a\xff1", "a\xff2", "a\xffsub\xffx", "ab", "b\xff1"}
	for _, k := range raw {
		require.NoError(t, store.Put(ctx, []byte(k), nil))
	}
	fake.objects["not-hex!"] = nil

	keys, err := store.Keys(ctx, []byte("a\xff"), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a\xff1"), []byte("a\xff2"), []byte("a\xffsub\xffx")}, keys)

	keys, err = store.Keys(ctx, []byte("a\xff"), []byte("a\xff1"), 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a\xff2")}, keys)

	keys, err = store.Keys(ctx, nil, nil, 100)
	require.NoError(t, err)
	assert.Len(t, keys, len(raw))
	assert.True(t, sort.SliceIsSorted(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 }))
}

func TestStorePutFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failPut = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	store := NewWithClient(fake, "bucket", "")

	err := store.Put(context.Background(), []byte("k"), []byte("v"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int64(1), store.GetMetrics().Errors)
	assert.InDelta(t, 1.0, store.metrics.GetErrorRate(), 0.001)
}

func TestStoreStatus(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewWithClient(fake, "bucket", "")

	status := store.Status()
	assert.Equal(t, "bucket", status["bucket"])
	assert.Equal(t, "0", status["requests"])
	assert.Equal(t, "0.0000", status["error_rate"])
	assert.NotContains(t, status, "last_error")

	require.NoError(t, store.Put(ctx, []byte("k"), []byte("value")))
	fake.failPut = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	require.Error(t, store.Put(ctx, []byte("k"), []byte("v")))

	status = store.Status()
	assert.Equal(t, "2", status["requests"])
	assert.Equal(t, "1", status["errors"])
	assert.Equal(t, "0.5000", status["error_rate"])
	assert.Equal(t, "5", status["bytes_uploaded"])
	assert.Contains(t, status["last_error"], "SlowDown")
	assert.NotEmpty(t, status["last_error_time"])
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(io.EOF))
	assert.False(t, IsRetryable(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.True(t, IsRetryable(&smithy.GenericAPIError{Code: "InternalError"}))
}

func TestConfigParseURI(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.ParseURI("s3://my-bucket/some/prefix/"))
	assert.Equal(t, "my-bucket", cfg.Bucket)
	assert.Equal(t, "some/prefix/", cfg.Prefix)

	cfg = NewDefaultConfig()
	require.NoError(t, cfg.ParseURI("s3://bare"))
	assert.Equal(t, "", cfg.Prefix)

	assert.Error(t, cfg.ParseURI("file:///tmp/x"))
	assert.Error(t, cfg.ParseURI("s3:///nobucket"))
}

func TestOpenEmptyBucket(t *testing.T) {
	_, err := Open(context.Background(), &Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}
