// Package archive implements the payload overflow archive (component N):
// when an AppState entry exceeds the configured inline limit (§3), its
// payload is written here and the wire value is replaced with a
// reference record.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store puts and fetches archived AppState payloads in S3 (or any
// S3-compatible endpoint, e.g. MinIO in development). Keys are
// content-addressed: the object key is derived from a hash of the
// payload itself, so re-archiving byte-identical app-state for the same
// channel and entry key (a repeated subscribe job re-collecting the same
// snapshot) lands on the same key instead of growing the bucket unbounded.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates an archive Store configured for the given endpoint. For
// MinIO, set useSSL to false and pass the MinIO endpoint (e.g.
// "http://localhost:9002"). If skipBucketVerification is true, the
// bucket is assumed to already exist.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL, skipBucketVerification bool) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}

	client := newS3Client(endpoint, accessKey, secretKey, useSSL)

	if !skipBucketVerification {
		if err := ensureBucket(ctx, client, bucket); err != nil {
			return nil, err
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// newS3Client builds an SDK client against a path-style, statically
// credentialed endpoint — the shape every S3-compatible backend this
// fabric targets (AWS, MinIO) accepts.
func newS3Client(endpoint, accessKey, secretKey string, useSSL bool) *s3.Client {
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		if !useSSL {
			o.EndpointOptions.DisableHTTPS = true
		}
	})
}

// ensureBucket confirms bucket exists, creating it if this is the first
// time the fabric has written to a fresh endpoint (e.g. a MinIO instance
// on first boot).
func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, headErr := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if headErr == nil {
		return nil
	}
	if _, createErr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); createErr != nil {
		return fmt.Errorf("archive: bucket %q not accessible and could not create: %w (original: %v)", bucket, createErr, headErr)
	}
	return nil
}

// Put archives an oversized AppState entry payload and returns its
// reference key. entryKey identifies the logical slot (channel_type's
// app_state entry tag plus a per-job sequence number, from
// subscription.AppState); the object key is scoped by channelName and
// entryKey and content-addressed off data, so identical payloads under the
// same channel and entry key collapse onto one object.
func (s *Store) Put(ctx context.Context, channelName, entryKey string, data []byte) (string, error) {
	key := s.objectKey(channelName, entryKey, data)

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytesReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}); err != nil {
		return "", fmt.Errorf("archive: put %q: %w", key, err)
	}
	return key, nil
}

// Get fetches a previously archived payload by its reference key. The
// caller is responsible for closing the returned reader.
func (s *Store) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: get %q: %w", ref, err)
	}
	return output.Body, nil
}

// Delete removes an archived payload, e.g. when its owning AppState
// entry is cleared.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}); err != nil {
		return fmt.Errorf("archive: delete %q: %w", ref, err)
	}
	return nil
}

// objectKey derives a content-addressed key: channel-scoped (so two
// channels can never collide), entry-scoped (for readability when
// listing a bucket by hand), and content-hashed (so re-archiving the
// same bytes is idempotent instead of accumulating duplicate objects).
func (s *Store) objectKey(channelName, entryKey string, data []byte) string {
	sum := sha256.Sum256(data)
	return path.Join("appstate", channelName, entryKey+"-"+hex.EncodeToString(sum[:])[:16])
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

func bytesReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
