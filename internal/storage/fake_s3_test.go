package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

type fakeObject struct {
	data []byte
	etag string
	tags []types.Tag
}

type fakeSession struct {
	bucket string
	key    string
	parts  map[int32][]byte
}

// fakeS3 is an in-memory S3 that computes ETags the way S3 does.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]*fakeObject
	sessions map[string]*fakeSession

	// failOnPart makes UploadPart fail for that part number.
	failOnPart   int32
	failComplete bool
	etagOverride string
	aborts       int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  map[string]*fakeObject{},
		sessions: map[string]*fakeSession{},
	}
}

func objectID(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func quotedMD5(data []byte) *string {
	sum := md5.Sum(data)
	return aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	etag := quotedMD5(data)
	f.objects[objectID(in.Bucket, in.Key)] = &fakeObject{data: data, etag: aws.ToString(etag)}
	return &s3.PutObjectOutput{ETag: etag}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.sessions[id] = &fakeSession{bucket: aws.ToString(in.Bucket), key: aws.ToString(in.Key), parts: map[int32][]byte{}}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.failOnPart != 0 && aws.ToInt32(in.PartNumber) == f.failOnPart {
		return nil, fmt.Errorf("connection reset while sending part %d", f.failOnPart)
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload"}
	}
	s.parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: quotedMD5(data)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.failComplete {
		return nil, &smithy.GenericAPIError{Code: "InternalError", Message: "complete failed"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	s, ok := f.sessions[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload"}
	}

	numbers := make([]int32, 0, len(in.MultipartUpload.Parts))
	for _, p := range in.MultipartUpload.Parts {
		numbers = append(numbers, aws.ToInt32(p.PartNumber))
	}
	if !sort.SliceIsSorted(numbers, func(i, j int) bool { return numbers[i] < numbers[j] }) {
		return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder"}
	}

	var data, digests []byte
	for _, n := range numbers {
		sum := md5.Sum(s.parts[n])
		digests = append(digests, sum[:]...)
		data = append(data, s.parts[n]...)
	}
	composite := md5.Sum(digests)
	etag := fmt.Sprintf(`"%s-%d"`, hex.EncodeToString(composite[:]), len(numbers))
	f.objects[s.bucket+"/"+s.key] = &fakeObject{data: data, etag: etag}
	delete(f.sessions, id)
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	delete(f.sessions, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) PutObjectTagging(_ context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID(in.Bucket, in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	for _, t := range in.Tagging.TagSet {
		if len([]rune(aws.ToString(t.Value))) > MaxTagValueLength {
			return nil, &smithy.GenericAPIError{Code: "InvalidTag", Message: "The TagValue you have provided is invalid"}
		}
	}
	obj.tags = in.Tagging.TagSet
	return &s3.PutObjectTaggingOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID(in.Bucket, in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	etag := obj.etag
	if f.etagOverride != "" {
		etag = `"` + f.etagOverride + `"`
	}
	return &s3.HeadObjectOutput{ETag: aws.String(etag), ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) object(bucket, key string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj, ok
}

func (f *fakeS3) openSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}
