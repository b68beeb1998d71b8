// Package storage moves files into S3 and verifies them afterwards.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cleverdata/cloud-courier/internal/checksum"
	"github.com/cleverdata/cloud-courier/internal/logging"
)

const (
	DefaultIdentity = "cloud-courier"

	TagUploadedBy       = "uploaded-by"
	TagOriginalFilePath = "original-file-path"
	TagLastModifiedAt   = "file-last-modified-at"
	TagCreatedAt        = "file-created-at"

	abortTimeout = 30 * time.Second
)

// Uploader transfers one file at a time and verifies the result.
type Uploader struct {
	client   API
	partSize int64
	identity string
	limiter  *Limiter
	logger   logging.Logger

	bandwidth int
}

type Opt func(*Uploader)

// WithPartSize overrides the multipart threshold and part size.
func WithPartSize(n int64) Opt {
	return func(u *Uploader) { u.partSize = n }
}

// WithBandwidth throttles uploads to bytesPerSecond. Zero disables throttling.
func WithBandwidth(bytesPerSecond int) Opt {
	return func(u *Uploader) { u.bandwidth = bytesPerSecond }
}

// WithIdentity sets the uploaded-by tag value.
func WithIdentity(identity string) Opt {
	return func(u *Uploader) { u.identity = identity }
}

func WithLogger(l logging.Logger) Opt {
	return func(u *Uploader) { u.logger = l }
}

func NewUploader(client API, opts ...Opt) *Uploader {
	u := &Uploader{
		client:   client,
		partSize: checksum.DefaultPartSize,
		identity: DefaultIdentity,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = logging.Prefixed(u.logger, "upload")
	u.limiter = NewLimiter(u.bandwidth, int(u.partSize))
	return u
}

// Upload sends filePath to bucket/key, tags the object and checks that the
// ETag S3 reports equals the locally computed checksum. The verified checksum
// is returned for the ledger.
func (u *Uploader) Upload(ctx context.Context, filePath, bucket, key string) (checksum.Checksum, error) {
	local, err := checksum.File(filePath, u.partSize)
	if err != nil {
		return "", fmt.Errorf("failed to compute checksum of %s: %w", filePath, err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	multipart := checksum.IsMultipart(info.Size(), u.partSize)
	kind := "single "
	if multipart {
		kind = "multi-"
	}
	u.logger.Infof("Starting %spart upload for '%s' (%d bytes) with part size %d bytes. Destination: %s",
		kind, filePath, info.Size(), u.partSize, CloudPath(bucket, key))

	if multipart {
		err = u.uploadMultipart(ctx, f, bucket, key)
	} else {
		err = u.uploadSingle(ctx, f, info.Size(), bucket, key)
	}
	if err != nil {
		return "", err
	}

	if err := u.tag(ctx, filePath, bucket, key); err != nil {
		return "", err
	}

	head, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch ETag of %s: %w", CloudPath(bucket, key), err)
	}

	remote := strings.Trim(aws.ToString(head.ETag), `"`)
	if remote != local.String() {
		return "", &ChecksumMismatchError{Local: local.String(), Remote: remote}
	}

	u.logger.Infof("Upload of '%s' completed successfully", filePath)
	return local, nil
}

func (u *Uploader) uploadSingle(ctx context.Context, f *os.File, size int64, bucket, key string) error {
	if err := u.limiter.Wait(ctx, int(size)); err != nil {
		return err
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", CloudPath(bucket, key), err)
	}
	return nil
}

// multipartSession is an open multipart upload. Every session that is not
// completed must be aborted so S3 keeps no partial data.
type multipartSession struct {
	client   API
	bucket   string
	key      string
	uploadID *string
	parts    []types.CompletedPart
}

func (u *Uploader) uploadMultipart(ctx context.Context, r io.Reader, bucket, key string) (err error) {
	created, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	session := &multipartSession{
		client:   u.client,
		bucket:   bucket,
		key:      key,
		uploadID: created.UploadId,
	}
	defer func() {
		if err != nil {
			u.logger.Errorf("An error occurred, aborting multipart upload %s: %v", aws.ToString(session.uploadID), err)
			err = session.abort(ctx, err)
		}
	}()

	buf := make([]byte, u.partSize)
	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := u.limiter.Wait(ctx, n); err != nil {
				return err
			}
			u.logger.Debugf("Uploading part %d...", partNumber)
			if err := session.uploadPart(ctx, partNumber, buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read part %d: %w", partNumber, readErr)
		}
	}

	u.logger.Debugf("Completing multipart upload...")
	return session.complete(ctx)
}

func (s *multipartSession) uploadPart(ctx context.Context, partNumber int32, data []byte) error {
	resp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Body:       bytes.NewReader(data),
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key),
		PartNumber: aws.Int32(partNumber),
		UploadId:   s.uploadID,
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	s.parts = append(s.parts, types.CompletedPart{
		PartNumber: aws.Int32(partNumber),
		ETag:       resp.ETag,
	})
	return nil
}

func (s *multipartSession) complete(ctx context.Context) error {
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: s.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: s.parts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// abort uses its own context so it still runs when ctx is already cancelled.
func (s *multipartSession) abort(ctx context.Context, originalErr error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	_, err := s.client.AbortMultipartUpload(cleanupCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: s.uploadID,
	})
	if err != nil {
		return errors.Join(originalErr, fmt.Errorf("failed to abort multipart upload: %w", err))
	}
	return originalErr
}

func (u *Uploader) tag(ctx context.Context, filePath, bucket, key string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	created, err := createdAt(filePath)
	if err != nil {
		return err
	}

	tags := []types.Tag{
		{Key: aws.String(TagUploadedBy), Value: aws.String(u.identity)},
		{Key: aws.String(TagOriginalFilePath), Value: aws.String(TagValue(filePath))},
		{Key: aws.String(TagLastModifiedAt), Value: aws.String(TagTime(info.ModTime()))},
		{Key: aws.String(TagCreatedAt), Value: aws.String(TagTime(created))},
	}

	_, err = u.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tags},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidTag" {
			for _, t := range tags {
				u.logger.Errorf("Rejected tag set entry %q=%q", aws.ToString(t.Key), aws.ToString(t.Value))
			}
		}
		return fmt.Errorf("failed to tag %s: %w", CloudPath(bucket, key), err)
	}
	return nil
}
