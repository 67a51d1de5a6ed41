// Package s3io provides the blob store backing receipt images.
package s3io

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Presigner defines the interface for presigning S3 requests.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignPut generates a presigned URL for uploading an object with the
// specified parameters.
func PresignPut(ctx context.Context, p Presigner, bucket, key, contentType string, meta map[string]string, ttl time.Duration) (string, time.Duration, error) {
	input := &s3.PutObjectInput{
		Bucket:               aws.String(bucket),
		Key:                  aws.String(key),
		ContentType:          aws.String(contentType),
		Metadata:             meta,
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	}

	req, err := p.PresignPutObject(ctx, input, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", 0, err
	}
	return req.URL, ttl, nil
}

// Store wraps an S3 client and bucket for receipt image operations.
type Store struct {
	Client   *s3.Client
	Presigns Presigner
	Bucket   string
}

// New builds a Store with a presign client derived from the given client.
func New(client *s3.Client, bucket string) *Store {
	return &Store{Client: client, Presigns: s3.NewPresignClient(client), Bucket: bucket}
}

// Exists reports whether the object at key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the byte size of the object at key.
func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	ho, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	if ho.ContentLength == nil {
		return 0, nil
	}
	return *ho.ContentLength, nil
}

// DeleteMany deletes the given keys in batches and returns the number
// of objects removed. Per-object failures reduce the count but do not
// fail the call.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (int, error) {
	const batchSize = 1000
	deleted := 0
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, err
		}
		deleted += len(objects) - len(out.Errors)
	}
	return deleted, nil
}

// PresignUpload returns a presigned PUT URL for key.
func (s *Store) PresignUpload(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (string, error) {
	url, _, err := PresignPut(ctx, s.Presigns, s.Bucket, key, contentType, meta, ttl)
	return url, err
}

// PresignDownload returns a presigned GET URL for key.
func (s *Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.Presigns.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// get downloads the object at key.
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// put uploads data to key as a JPEG derivative of src.
func (s *Store) put(ctx context.Context, key string, data []byte, srcKey string) error {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
		Metadata:    map[string]string{"original_key": srcKey},
	})
	return err
}
