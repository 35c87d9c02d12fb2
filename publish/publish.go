// Package publish mirrors a local output directory to an S3 bucket so
// the table plugin can import the files over HTTP. A sync uploads new
// and changed files, then deletes remote objects with no local
// counterpart, so after a successful run the bucket holds exactly the
// run's output.
package publish

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/okwatch/donorwall/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// CacheControl is set on every uploaded object. The table plugin
// re-reads the files on each page view; five minutes keeps it from
// hammering the bucket without holding stale data for long.
const CacheControl = "private, max-age=300"

// uploadConcurrency bounds parallel PutObject calls.
const uploadConcurrency = 4

// deleteBatchSize is the DeleteObjects API limit.
const deleteBatchSize = 1000

// PublishError reports a failed bucket operation.
type PublishError struct {
	Op  string // "read", "list", "put" or "delete"
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// s3API is the slice of the S3 client a sync needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Publisher syncs a local directory to one bucket.
type Publisher struct {
	client s3API
	bucket string
	log    *slog.Logger
}

// New returns a Publisher for the configured bucket, authenticating
// with the static credentials from the environment.
func New(cfg config.StorageConfig, logger *slog.Logger) *Publisher {
	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	})
	return &Publisher{client: client, bucket: cfg.Bucket, log: logger}
}

// Result summarizes one sync.
type Result struct {
	Uploaded int
	Skipped  int
	Deleted  int
}

// Sync mirrors dir to the bucket. Files whose content already matches
// the remote object (ETag against local MD5) are skipped. Stale remote
// objects are deleted only after every upload has completed, so a
// failed run never removes data it did not replace.
func (p *Publisher) Sync(ctx context.Context, dir string) (*Result, error) {
	local, err := localFiles(dir)
	if err != nil {
		return nil, err
	}
	remote, err := p.remoteObjects(ctx)
	if err != nil {
		return nil, err
	}

	var uploaded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, file := range local {
		if remote[file.name] == file.md5 {
			skipped.Add(1)
			p.log.Debug("unchanged, skipping upload", "file", file.name)
			continue
		}
		g.Go(func() error {
			if err := p.upload(gctx, file); err != nil {
				return err
			}
			uploaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var stale []string
	for key := range remote {
		if _, ok := local[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	if err := p.deleteAll(ctx, stale); err != nil {
		return nil, err
	}

	result := &Result{
		Uploaded: int(uploaded.Load()),
		Skipped:  int(skipped.Load()),
		Deleted:  len(stale),
	}
	p.log.Info("bucket sync complete",
		"bucket", p.bucket,
		"uploaded", result.Uploaded,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
	)
	return result, nil
}

// localFile is one file eligible for upload.
type localFile struct {
	name string
	path string
	md5  string
}

// localFiles inventories dir: object key and content MD5 per file,
// leaving out OS marker files and dotfiles.
func localFiles(dir string) (map[string]localFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PublishError{Op: "read", Key: dir, Err: err}
	}
	files := make(map[string]localFile)
	for _, entry := range entries {
		if entry.IsDir() || excluded(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		sum, err := md5OfFile(path)
		if err != nil {
			return nil, &PublishError{Op: "read", Key: entry.Name(), Err: err}
		}
		files[entry.Name()] = localFile{name: entry.Name(), path: path, md5: sum}
	}
	return files, nil
}

// excluded reports whether a file name is an OS marker or dotfile that
// never belongs in the bucket.
func excluded(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "Thumbs.db", "desktop.ini":
		return true
	}
	return false
}

// md5OfFile hashes the file content for comparison against S3 ETags,
// which are content MD5s for objects uploaded in a single part.
func md5OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// remoteObjects inventories the bucket: object key to unquoted ETag,
// following continuation tokens until the listing is complete.
func (p *Publisher) remoteObjects(ctx context.Context) (map[string]string, error) {
	objects := make(map[string]string)
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket)}
	for {
		page, err := p.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, &PublishError{Op: "list", Key: p.bucket, Err: err}
		}
		for _, object := range page.Contents {
			objects[aws.ToString(object.Key)] = strings.Trim(aws.ToString(object.ETag), `"`)
		}
		if !aws.ToBool(page.IsTruncated) {
			return objects, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// upload puts one file with public-read ACL and the cache-control
// header the table plugin relies on.
func (p *Publisher) upload(ctx context.Context, file localFile) error {
	f, err := os.Open(file.path)
	if err != nil {
		return &PublishError{Op: "put", Key: file.name, Err: err}
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(file.name),
		Body:         f,
		ACL:          types.ObjectCannedACLPublicRead,
		CacheControl: aws.String(CacheControl),
	}
	if strings.HasSuffix(file.name, ".csv") {
		input.ContentType = aws.String("text/csv")
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return &PublishError{Op: "put", Key: file.name, Err: err}
	}
	p.log.Info("uploaded", "file", file.name)
	return nil
}

// deleteAll removes the given keys in API-sized batches.
func (p *Publisher) deleteAll(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		identifiers := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			identifiers[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return &PublishError{Op: "delete", Key: batch[0], Err: err}
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return &PublishError{
				Op:  "delete",
				Key: aws.ToString(first.Key),
				Err: fmt.Errorf("%s: %s", aws.ToString(first.Code), aws.ToString(first.Message)),
			}
		}
		for _, key := range batch {
			p.log.Info("deleted stale object", "key", key)
		}
	}
	return nil
}
