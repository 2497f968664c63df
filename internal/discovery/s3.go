package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"asset-harvester/internal/model"
)

const S3DestPrefix = "s3"

type S3Options struct {
	Region   string
	Endpoint string
	// Static keys; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := make([]func(*awsconfig.LoadOptions) error, 0, 2)
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, model.Wrap(model.ErrCredential, "s3", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Lister lists objects below an s3://bucket/prefix reference.
type S3Lister struct {
	Client *s3.Client
}

func (l *S3Lister) List(ctx context.Context, folderRef string, fn func(Object) error) error {
	bucket, prefix, ok := model.SplitS3Ref(folderRef)
	if !ok {
		return model.Wrap(model.ErrDiscovery, folderRef, errors.New("invalid s3 reference"))
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	pages := s3.NewListObjectsV2Paginator(l.Client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return classifyS3Error(folderRef, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			err := fn(Object{
				Ref:     fmt.Sprintf("%s%s/%s", model.S3RefPrefix, bucket, key),
				RelPath: strings.TrimPrefix(key, prefix),
				Size:    aws.ToInt64(obj.Size),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

var s3CredentialCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
	"AllAccessDisabled":     true,
}

func classifyS3Error(ref string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && s3CredentialCodes[apiErr.ErrorCode()] {
		return model.Wrap(model.ErrCredential, ref, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "retrieve credentials") {
		return model.Wrap(model.ErrCredential, ref, err)
	}
	return model.Wrap(model.ErrDiscovery, ref, err)
}
