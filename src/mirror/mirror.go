// Package mirror copies published artifacts to an S3-compatible bucket, so
// downloads can be served from a CDN instead of the public directory.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"sort"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/publication"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
)

type S3 struct {
	client *s3.Client
	bucket string
}

var _ publication.Mirror = &S3{}

func New(ctx context.Context, cfg config.MirrorConfig) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, ""),
		),
		awsconfig.WithRegion(utils.OrDefault(cfg.Region, "us-east-1")),
		awsconfig.WithEndpointResolver(aws.EndpointResolverFunc(func(service, region string) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})),
	)
	if err != nil {
		return nil, oops.New(err, "failed to configure mirror client")
	}
	return &S3{
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
		}),
		bucket: cfg.Bucket,
	}, nil
}

func objectKey(publicSlug, name string) string {
	return path.Join(publicSlug, name)
}

// Upload copies local files under the publication's prefix. files maps object
// names to paths on disk.
func (m *S3) Upload(ctx context.Context, publicSlug string, files map[string]string) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(files[name])
		if err != nil {
			return oops.New(err, "failed to read %s for mirroring", files[name])
		}
		if err := m.put(ctx, objectKey(publicSlug, name), data); err != nil {
			return err
		}
	}
	logging.ExtractLogger(ctx).Debug().Str("slug", publicSlug).Int("files", len(names)).Msg("mirrored publication")
	return nil
}

// Sniffed from the data, except for Markdown sources, which would sniff as
// plain text.
func contentType(key string, data []byte) string {
	if path.Ext(key) == ".md" {
		return "text/markdown; charset=utf-8"
	}
	return mimetype.Detect(data).String()
}

func (m *S3) put(ctx context.Context, key string, data []byte) error {
	contentType := contentType(key, data)
	upload := func() error {
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &m.bucket,
			Key:         &key,
			Body:        bytes.NewReader(data),
			ACL:         types.ObjectCannedACLPublicRead,
			ContentType: &contentType,
		})
		return err
	}

	err := upload()
	var apiError smithy.APIError
	if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchBucket" {
		if _, err := m.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &m.bucket}); err != nil {
			return oops.New(err, "failed to create mirror bucket")
		}
		err = upload()
	}
	if err != nil {
		return oops.New(err, "failed to upload %s", key)
	}
	return nil
}

// Remove deletes every object under the publication's prefix.
func (m *S3) Remove(ctx context.Context, publicSlug string) error {
	keys, err := m.List(ctx, publicSlug)
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &m.bucket,
			Key:    aws.String(key),
		})
		if err != nil {
			return oops.New(err, "failed to delete %s", key)
		}
	}
	logging.ExtractLogger(ctx).Debug().Str("slug", publicSlug).Int("files", len(keys)).Msg("removed mirrored publication")
	return nil
}

// List returns the keys mirrored for a publication.
func (m *S3) List(ctx context.Context, publicSlug string) ([]string, error) {
	prefix := publicSlug + "/"
	var (
		keys  []string
		token *string
	)
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &m.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		var apiError smithy.APIError
		if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchBucket" {
			return nil, nil
		} else if err != nil {
			return nil, oops.New(err, "failed to list mirrored files of %s", publicSlug)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.NextContinuationToken == nil || *out.NextContinuationToken == "" {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}
