package source

import (
	"bufio"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds an S3 client from the shared AWS config chain,
// honoring an optional named profile.
func NewS3Client(ctx context.Context, region, profile string) (*s3.Client, error) {
	var awsCfg aws.Config
	var err error
	if profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("source: load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewS3Source streams an S3 object through the CSV reader. The object
// is not buffered to disk; the body stays open until Close.
func NewS3Source(ctx context.Context, client *s3.Client, bucket, key string) (*CSVSource, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("source: get s3://%s/%s: %w", bucket, key, err)
	}

	identity := fmt.Sprintf("s3://%s/%s", bucket, key)
	src, err := NewCSVSource(bufio.NewReaderSize(out.Body, 256*1024), identity)
	if err != nil {
		out.Body.Close()
		return nil, err
	}
	src.closer = out.Body
	return src, nil
}
