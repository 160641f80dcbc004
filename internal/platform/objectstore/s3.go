package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3Store. Endpoint is optional and enables
// path-style addressing for S3 compatible servers such as MinIO.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	URLTTL    time.Duration
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps objects in an S3 bucket and hands out presigned GET URLs.
type S3Store struct {
	client  s3API
	presign func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	bucket  string
	ttl     time.Duration

	// endpoint is set for path-style servers; region names the virtual
	// hosted AWS endpoint otherwise.
	endpoint *url.URL
	region   string
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// provided, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	pc := s3.NewPresignClient(client)

	store := newS3Store(client, func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
		req, err := pc.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}, cfg.Bucket, cfg.URLTTL)
	store.region = cfg.Region
	if cfg.Endpoint != "" {
		if store.endpoint, err = url.Parse(cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("parse s3 endpoint: %w", err)
		}
	}
	return store, nil
}

func newS3Store(client s3API, presign func(context.Context, string, string, time.Duration) (string, error), bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &S3Store{client: client, presign: presign, bucket: bucket, ttl: ttl}
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return unavailable("put object "+key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, unavailable("get object "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, unavailable("read object "+key, err)
	}
	obj := &Object{
		ObjectInfo: ObjectInfo{
			Key:         key,
			Size:        int64(len(data)),
			ContentType: aws.ToString(out.ContentType),
			Hash:        aws.ToString(out.ETag),
		},
		Data: data,
	}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	return obj, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	out := []ObjectInfo{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, unavailable("list objects "+prefix, err)
		}
		for _, o := range page.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(o.Key),
				Size: aws.ToInt64(o.Size),
				Hash: aws.ToString(o.ETag),
			}
			if o.LastModified != nil {
				info.LastModified = *o.LastModified
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	u, err := s.presign(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", unavailable("presign "+key, err)
	}
	return u, nil
}

// KeyFromURL accepts presigned URLs for this bucket only: path-style under
// the configured endpoint, or virtual-hosted on AWS.
func (s *S3Store) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.User != nil {
		return "", false
	}
	if s.endpoint != nil {
		if u.Scheme != s.endpoint.Scheme || u.Host != s.endpoint.Host {
			return "", false
		}
		return keyAfter(u, strings.TrimRight(s.endpoint.EscapedPath(), "/")+"/"+s.bucket+"/")
	}
	if u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != s.bucket+".s3."+s.region+".amazonaws.com" && host != s.bucket+".s3.amazonaws.com" {
		return "", false
	}
	return keyAfter(u, "/")
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return unavailable("delete object "+key, err)
	}
	return nil
}
