package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of *s3.Client the uploader needs. Used for testing purposes.
type API interface {
	// PutObject performs a single-shot upload.
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
	// CreateMultipartUpload initiates a multipart upload and returns an upload ID.
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)
	// UploadPart uploads a part in a multipart upload.
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options),
	) (*s3.UploadPartOutput, error)
	// CompleteMultipartUpload completes a multipart upload by assembling previously uploaded parts.
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)
	// AbortMultipartUpload aborts a multipart upload.
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)
	// PutObjectTagging replaces the tag set of an object.
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectTaggingOutput, error)
	// HeadObject retrieves metadata from an object without returning the object itself.
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options),
	) (*s3.HeadObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// ChecksumMismatchError means the ETag S3 reports differs from the checksum
// computed locally before the transfer. The object is left in the bucket.
type ChecksumMismatchError struct {
	Local  string
	Remote string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch! locally calculated: %s, S3: %s", e.Local, e.Remote)
}
