package contentstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/domain"
)

type fakeObjects struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SaveAndLoad(t *testing.T) {
	api := newFakeObjects()
	store := newS3(api, "articles", "/prod/")

	ref, err := store.Save(context.Background(), "projects/1/articles/2/brew.html", []byte("<p>hi</p>"))
	require.NoError(t, err)
	assert.Equal(t, "s3://articles/prod/projects/1/articles/2/brew.html", ref)
	assert.Equal(t, "text/html; charset=utf-8", api.types["articles/prod/projects/1/articles/2/brew.html"])

	data, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))
}

func TestS3LoadErrors(t *testing.T) {
	store := newS3(newFakeObjects(), "articles", "")

	_, err := store.Load(context.Background(), "s3://articles/missing.html")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, ref := range []string{"mem://x", "s3://", "s3://bucket", "s3://bucket/"} {
		_, err := store.Load(context.Background(), ref)
		assert.Error(t, err, ref)
	}
}

func TestS3SaveError(t *testing.T) {
	api := newFakeObjects()
	api.putErr = errors.New("access denied")
	_, err := newS3(api, "b", "").Save(context.Background(), "k.html", nil)
	assert.ErrorContains(t, err, "access denied")
}
