package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"author-merge/config"
)

// ObjectInfo beschreibt ein Objekt im Ledger-Bucket.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// S3ObjectStore schreibt Ledger-Exporte in einen S3-kompatiblen Bucket.
type S3ObjectStore struct {
	Client  *s3.Client
	Bucket  string
	BaseURL string
}

// NewS3Client erstellt einen S3-Client für den konfigurierten Ledger-Endpoint.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.LedgerS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.LedgerS3Key, cfg.LedgerS3Secret, "")),
	}
	if cfg.LedgerS3URL != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.LedgerS3URL,
					SigningRegion:     cfg.LedgerS3Region,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// NewS3ObjectStore baut Client und Store aus der Konfiguration.
func NewS3ObjectStore(ctx context.Context, cfg *config.Config) (*S3ObjectStore, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3ObjectStore{Client: client, Bucket: cfg.LedgerS3Bucket, BaseURL: cfg.LedgerS3URL}, nil
}

// PutObject lädt data unter key hoch und gibt den Link zurück.
func (s *S3ObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	if s.BaseURL == "" {
		return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
	}
	return fmt.Sprintf("%s/%s/%s", s.BaseURL, s.Bucket, key), nil
}

// ListObjects listet alle Objekte unter prefix, neueste zuerst.
func (s *S3ObjectStore) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].Key > out[j].Key
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

// DeleteObject löscht ein Objekt aus dem Bucket.
func (s *S3ObjectStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	return err
}
