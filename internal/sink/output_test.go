package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOutput_WritesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	out := LocalOutput{Path: path}

	require.NoError(t, out.Put(context.Background(), []byte("one"), ""))
	require.NoError(t, out.Put(context.Background(), []byte("two"), ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
	assert.Equal(t, path, out.Location())
}

func TestLocalOutput_EmptyPath(t *testing.T) {
	err := LocalOutput{}.Put(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  string
	err   error
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = input
	data, _ := io.ReadAll(input.Body)
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{Location: "https://bucket.s3/key"}, nil
}

func TestS3Output_Put(t *testing.T) {
	up := &fakeUploader{}
	out := NewS3OutputWithUploader("reports", "/threads/insights.csv", up)

	require.NoError(t, out.Put(context.Background(), []byte("a,b\n"), "text/csv"))
	assert.Equal(t, "reports", aws.StringValue(up.input.Bucket))
	assert.Equal(t, "threads/insights.csv", aws.StringValue(up.input.Key))
	assert.Equal(t, "text/csv", aws.StringValue(up.input.ContentType))
	assert.Equal(t, "a,b\n", up.body)
	assert.Equal(t, "s3://reports/threads/insights.csv", out.Location())
}

func TestS3Output_UploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	err := NewS3OutputWithUploader("b", "k", up).Put(context.Background(), []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k")
	assert.Nil(t, up.input.ContentType)
}

func TestJSONSink_ToS3(t *testing.T) {
	up := &fakeUploader{}
	s := NewJSONSink(NewS3OutputWithUploader("b", "insights.json", up))
	require.NoError(t, s.Write(context.Background(), testRecords(1), testRecords(1)[0].PostedAt))
	assert.Contains(t, up.body, `"id": "p1"`)
}
