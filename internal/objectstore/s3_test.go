package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"medguard/internal/digest"
	"medguard/internal/guard"
)

// fakeS3 is an in-memory bucket implementing both S3API and Uploader.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func (f *fakeS3) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.uploads++
	return &manager.UploadOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, fake, "bucket", "site-a")
	d := digest.Sum([]byte("block"))

	if err := s.PutIfAbsent(d, []byte("payload")); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}
	if err := s.PutIfAbsent(d, []byte("payload")); err != nil {
		t.Fatalf("second PutIfAbsent() error = %v", err)
	}
	if fake.uploads != 1 {
		t.Errorf("uploads = %d, want 1", fake.uploads)
	}

	wantKey := "site-a/blocks/" + d[:2] + "/" + d
	if _, ok := fake.objects[wantKey]; !ok {
		t.Errorf("object not stored under %q", wantKey)
	}

	has, err := s.Has(d)
	if err != nil || !has {
		t.Errorf("Has() = %v, %v; want true, nil", has, err)
	}

	got, err := s.Get(d)
	if err != nil || string(got) != "payload" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	_, err = s.Get(digest.Sum([]byte("missing")))
	if !errors.Is(err, guard.ErrObjectNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrObjectNotFound", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Objects != 1 || stats.Bytes != int64(len("payload")) {
		t.Errorf("Stats() = %+v", stats)
	}
}
