package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/provider"
)

type tableConfig struct {
	Name        string           `json:"name"`
	BillingMode string           `json:"billing_mode"`
	HashKey     string           `json:"hash_key"`
	RangeKey    string           `json:"range_key"`
	Attributes  []tableAttribute `json:"attribute"`
}

type tableAttribute struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (p *Provider) applyTable(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired tableConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var attrs []types.AttributeDefinition
	for _, a := range desired.Attributes {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(a.Name),
			AttributeType: types.ScalarAttributeType(a.Type),
		})
	}

	keySchema := []types.KeySchemaElement{{
		AttributeName: aws.String(desired.HashKey),
		KeyType:       types.KeyTypeHash,
	}}
	if desired.RangeKey != "" {
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: aws.String(desired.RangeKey),
			KeyType:       types.KeyTypeRange,
		})
	}

	billing := types.BillingModePayPerRequest
	if desired.BillingMode != "" {
		billing = types.BillingMode(desired.BillingMode)
	}

	var arn string
	resp, err := p.dynamodbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(desired.Name),
		AttributeDefinitions: attrs,
		KeySchema:            keySchema,
		BillingMode:          billing,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			var ae smithy.APIError
			if !errors.As(err, &ae) || ae.ErrorCode() != "ResourceInUseException" {
				return nil, fmt.Errorf("failed to create table: %w", err)
			}
		}
		// Table exists: billing mode is the only attribute updatable in
		// place. An unchanged mode is rejected as a ValidationException,
		// which is fine.
		_, err = p.dynamodbClient.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:   aws.String(desired.Name),
			BillingMode: billing,
		})
		if err != nil {
			var ae smithy.APIError
			if !errors.As(err, &ae) || ae.ErrorCode() != "ValidationException" {
				return nil, fmt.Errorf("failed to update table: %w", err)
			}
		}
		desc, err := p.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(desired.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe table: %w", err)
		}
		arn = aws.ToString(desc.Table.TableArn)
	} else {
		arn = aws.ToString(resp.TableDescription.TableArn)
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":  desired.Name,
		"arn": arn,
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteTable(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.dynamodbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete table %s: %w", req.ID, err)
	}
	return nil
}
