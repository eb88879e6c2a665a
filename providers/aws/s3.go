package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/provider"
)

type bucketConfig struct {
	Bucket string            `json:"bucket"`
	Tags   map[string]string `json:"tags"`
}

func (p *Provider) applyBucket(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired bucketConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// Bucket names are global; create is idempotent when we own the name.
	_, err := p.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(desired.Bucket),
	})
	if err != nil {
		var ae smithy.APIError
		if !errors.As(err, &ae) || ae.ErrorCode() != "BucketAlreadyOwnedByYou" {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":  desired.Bucket,
		"arn": fmt.Sprintf("arn:aws:s3:::%s", desired.Bucket),
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) readBucket(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(req.ID),
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (p *Provider) deleteBucket(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete bucket %s: %w", req.ID, err)
	}
	return nil
}
