package publish

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/okwatch/donorwall/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/go-cmp/cmp"
)

// fakeS3 implements s3API in memory. It records every mutating call so
// tests can assert on operation ordering.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	events   []string
	pageSize int   // ListObjectsV2 page size; 0 means everything
	putErr   error // injected PutObject failure
}

type fakeObject struct {
	body         []byte
	acl          types.ObjectCannedACL
	cacheControl string
	contentType  string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) seed(key, body string) {
	f.objects[key] = fakeObject{body: []byte(body)}
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(input.Key)
	f.objects[key] = fakeObject{
		body:         body,
		acl:          input.ACL,
		cacheControl: aws.ToString(input.CacheControl),
		contentType:  aws.ToString(input.ContentType),
	}
	f.events = append(f.events, "put "+key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(input.ContinuationToken); token != "" {
		start, _ = strconv.Atoi(token)
	}
	pageSize := f.pageSize
	if pageSize == 0 {
		pageSize = len(keys)
	}
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		sum := md5.Sum(f.objects[key].body)
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			ETag: aws.String(`"` + hex.EncodeToString(sum[:]) + `"`),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, identifier := range input.Delete.Objects {
		key := aws.ToString(identifier.Key)
		delete(f.objects, key)
		f.events = append(f.events, "delete "+key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func testPublisher(fake *fakeS3) *Publisher {
	return &Publisher{
		client: fake,
		bucket: "donor-tables",
		log: slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		)),
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"donor-totals.csv":       "account,total,contacts\nThoren Household,125.00,1\n",
		"all-time-donations.csv": "\"Thomas Thoren\"\r\n",
	})

	fake := newFakeS3()
	// Unchanged remote copy: must be skipped, not re-uploaded.
	fake.seed("donor-totals.csv", "account,total,contacts\nThoren Household,125.00,1\n")
	// Stale object from a previous run: must be deleted.
	fake.seed("1999.csv", "old")

	result, err := testPublisher(fake).Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	want := &Result{Uploaded: 1, Skipped: 1, Deleted: 1}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"all-time-donations.csv", "donor-totals.csv"}, fake.keys()); diff != "" {
		t.Errorf("bucket mismatch (-want +got):\n%s", diff)
	}

	uploaded := fake.objects["all-time-donations.csv"]
	if got, want := uploaded.acl, types.ObjectCannedACLPublicRead; got != want {
		t.Errorf("got ACL %q, want %q", got, want)
	}
	if got, want := uploaded.cacheControl, CacheControl; got != want {
		t.Errorf("got cache control %q, want %q", got, want)
	}
	if got, want := uploaded.contentType, "text/csv"; got != want {
		t.Errorf("got content type %q, want %q", got, want)
	}
}

func TestSyncDeletesAfterUploads(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"donor-totals.csv": "a\n",
		"2014.csv":         "b\n",
		"2015.csv":         "c\n",
	})

	fake := newFakeS3()
	fake.seed("1998.csv", "old")
	fake.seed("1999.csv", "old")

	if _, err := testPublisher(fake).Sync(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	lastPut, firstDelete := -1, len(fake.events)
	for i, event := range fake.events {
		if strings.HasPrefix(event, "put ") && i > lastPut {
			lastPut = i
		}
		if strings.HasPrefix(event, "delete ") && i < firstDelete {
			firstDelete = i
		}
	}
	if lastPut > firstDelete {
		t.Errorf("delete before uploads finished: %v", fake.events)
	}
	if got, want := len(fake.events), 5; got != want {
		t.Errorf("got %d events, want %d: %v", got, want, fake.events)
	}
}

func TestSyncExcludesMarkerFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"donor-totals.csv": "rows\n",
		".DS_Store":        "junk",
		"Thumbs.db":        "junk",
		"desktop.ini":      "junk",
		".env":             "SECRET=1",
	})

	fake := newFakeS3()
	result, err := testPublisher(fake).Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := result.Uploaded, 1; got != want {
		t.Errorf("got %d uploads, want %d", got, want)
	}
	if diff := cmp.Diff([]string{"donor-totals.csv"}, fake.keys()); diff != "" {
		t.Errorf("bucket mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncPaginatesRemoteListing(t *testing.T) {
	dir := t.TempDir()

	fake := newFakeS3()
	fake.pageSize = 1
	fake.seed("2014.csv", "a")
	fake.seed("2015.csv", "b")
	fake.seed("2016.csv", "c")

	result, err := testPublisher(fake).Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := result.Deleted, 3; got != want {
		t.Errorf("got %d deleted, want %d", got, want)
	}
	if got, want := len(fake.keys()), 0; got != want {
		t.Errorf("got %d remaining objects, want %d", got, want)
	}
}

func TestSyncPutError(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"donor-totals.csv": "rows\n"})

	fake := newFakeS3()
	fake.seed("1999.csv", "old")
	fake.putErr = errors.New("access denied")

	_, err := testPublisher(fake).Sync(context.Background(), dir)

	var publishErr *PublishError
	if !errors.As(err, &publishErr) {
		t.Fatalf("got %T, want *PublishError", err)
	}
	if got, want := publishErr.Op, "put"; got != want {
		t.Errorf("got op %q, want %q", got, want)
	}
	if got, want := publishErr.Key, "donor-totals.csv"; got != want {
		t.Errorf("got key %q, want %q", got, want)
	}
	// The failed upload must leave the stale object alone.
	for _, event := range fake.events {
		if strings.HasPrefix(event, "delete ") {
			t.Errorf("deleted despite failed upload: %v", fake.events)
		}
	}
}

func TestSyncMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")

	_, err := testPublisher(newFakeS3()).Sync(context.Background(), dir)

	var publishErr *PublishError
	if !errors.As(err, &publishErr) {
		t.Fatalf("got %T, want *PublishError", err)
	}
	if got, want := publishErr.Op, "read"; got != want {
		t.Errorf("got op %q, want %q", got, want)
	}
}

func TestNew(t *testing.T) {
	p := New(config.StorageConfig{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		Bucket:          "donor-tables",
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if got, want := p.bucket, "donor-tables"; got != want {
		t.Errorf("got bucket %q, want %q", got, want)
	}
	if p.client == nil {
		t.Error("got nil client")
	}
}
