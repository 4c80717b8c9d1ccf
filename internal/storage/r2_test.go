package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeR2 is an in-memory stand-in for the S3 client.
type fakeR2 struct {
	objects map[string][]byte
	failGet error
}

func newFakeR2() *fakeR2 { return &fakeR2{objects: map[string][]byte{}} }

func (f *fakeR2) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeR2) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeR2) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeR2) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestR2Storage(t *testing.T) {
	exerciseStorage(t, &R2Storage{client: newFakeR2(), bucket: "carts"})
}

func TestR2Storage_GetWrapsBackendErrors(t *testing.T) {
	fake := newFakeR2()
	fake.failGet = errors.New("connection reset")
	s := &R2Storage{client: fake, bucket: "carts"}

	_, err := s.Get(context.Background(), "cart/guest-cart.json")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNewR2Storage_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewR2Storage(ctx, R2Config{})
	assert.ErrorIs(t, err, ErrR2AccountIDRequired)

	_, err = NewR2Storage(ctx, R2Config{AccountID: "acct"})
	assert.ErrorIs(t, err, ErrR2CredentialsRequired)

	_, err = NewR2Storage(ctx, R2Config{AccountID: "acct", AccessKeyID: "k", SecretKey: "s"})
	assert.ErrorIs(t, err, ErrR2BucketRequired)
}
