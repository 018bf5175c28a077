package blob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/openmined/bucketsync/internal/version"
)

// S3Backend talks to S3 or an S3-compatible endpoint.
type S3Backend struct {
	s3Client *s3.Client
	config   *S3Config
}

func NewS3Backend(s3Client *s3.Client, config *S3Config) *S3Backend {
	return &S3Backend{
		s3Client: s3Client,
		config:   config,
	}
}

func NewS3BackendWithConfig(cfg *S3Config) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// no overall client timeout: uploads of large files are bounded only by the transport.
	// The buildable client lets the SDK apply AWS_CA_BUNDLE to the transport.
	httpClient := awshttp.NewBuildableClient().
		WithTimeout(0).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = 30 * time.Second
			d.KeepAlive = 30 * time.Second
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.Proxy = http.ProxyFromEnvironment
			tr.MaxIdleConns = 10
			tr.IdleConnTimeout = 90 * time.Second
			tr.TLSHandshakeTimeout = 10 * time.Second
			tr.ExpectContinueTimeout = 1 * time.Second
		})

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
		config.WithAppID(version.AppID()),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	return NewS3Backend(awsClient, cfg), nil
}

// ===================================================================================================

func (s *S3Backend) CreateBucket(ctx context.Context, acl string) error {
	input := &s3.CreateBucketInput{
		Bucket: &s.config.BucketName,
	}
	if acl != "" {
		input.ACL = types.BucketCannedACL(acl)
	}
	// us-east-1 rejects an explicit location constraint
	if s.config.Region != DefaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}

	_, err := s.s3Client.CreateBucket(ctx, input)
	if err == nil {
		return nil
	}
	if !isAlreadyOwned(err) {
		return fmt.Errorf("create bucket %s: %w", s.config.BucketName, err)
	}
	if acl == "" {
		return nil
	}

	_, err = s.s3Client.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: &s.config.BucketName,
		ACL:    types.BucketCannedACL(acl),
	})
	if err != nil {
		return fmt.Errorf("update bucket acl %s: %w", s.config.BucketName, err)
	}
	return nil
}

// ===================================================================================================

func (s *S3Backend) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	resp, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ObjectMeta{
		Key:   key,
		Size:  aws.ToInt64(resp.ContentLength),
		Mtime: resp.Metadata[MetaMtime],
		ETag:  trimETag(resp.ETag),
	}, nil
}

// ===================================================================================================

func (s *S3Backend) Put(ctx context.Context, params *PutObjectParams) (*ObjectMeta, error) {
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	input := &s3.PutObjectInput{
		Bucket:        &s.config.BucketName,
		Key:           &params.Key,
		Body:          params.Body,
		ContentLength: aws.Int64(params.Size),
		Metadata: map[string]string{
			MetaMtime: params.Mtime,
		},
	}
	if params.ACL != "" {
		input.ACL = types.ObjectCannedACL(params.ACL)
	}

	resp, err := s.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, err
	}

	return &ObjectMeta{
		Key:   params.Key,
		Size:  params.Size,
		Mtime: params.Mtime,
		ETag:  trimETag(resp.ETag),
	}, nil
}

// ===================================================================================================

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	return err
}

// ===================================================================================================

// ListPage uses the v1 ListObjects call, whose Marker is the last key seen.
func (s *S3Backend) ListPage(ctx context.Context, marker string) ([]*ObjectInfo, error) {
	input := &s3.ListObjectsInput{
		Bucket: &s.config.BucketName,
	}
	if marker != "" {
		input.Marker = aws.String(marker)
	}

	resp, err := s.s3Client.ListObjects(ctx, input)
	if err != nil {
		return nil, err
	}

	objects := make([]*ObjectInfo, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		objects = append(objects, &ObjectInfo{
			Key:          aws.ToString(obj.Key),
			ETag:         trimETag(obj.ETag),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return objects, nil
}

// ===================================================================================================

func trimETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

// check if S3Backend implements Backend interface
var _ Backend = (*S3Backend)(nil)
