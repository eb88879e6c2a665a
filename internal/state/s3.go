package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
)

// s3Backend stores the snapshot in S3 and coordinates the lock through a
// DynamoDB table keyed by the state object path.
type s3Backend struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client *s3.Client
	dbClient *dynamodb.Client
}

func newS3Backend(config map[string]string) (Backend, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := config["key"]
	if key == "" {
		key = "terrane/state.json"
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	b := &s3Backend{
		bucket:        bucket,
		key:           key,
		region:        region,
		dynamoDBTable: config["dynamodb_table"],
		encrypt:       config["encrypt"] == "true",
		profile:       config["profile"],
	}

	if err := b.initClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}

	return b, nil
}

func (b *s3Backend) initClients() error {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)

	if b.dynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}

	return nil
}

func (b *s3Backend) ReadState(ctx context.Context) (*ir.State, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		// A missing object means nothing has been applied yet.
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return NewState(), nil
		}
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	state, err := ParseState(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	return state, nil
}

func (b *s3Backend) WriteState(ctx context.Context, state *ir.State, lockID string) error {
	if b.dbClient != nil {
		holder, err := b.readLock(ctx)
		if err != nil {
			return err
		}
		if err := verifyHeldLock(holder, lockID); err != nil {
			return err
		}
	}

	data, err := SerializeState(state)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(data),
	}
	if b.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, b.key, err)
	}

	return nil
}

func (b *s3Backend) Lock(ctx context.Context, info *LockInfo) (string, error) {
	if b.dbClient == nil {
		// No DynamoDB table configured: locking is a no-op, as with
		// unversioned remote backends.
		return info.ID, nil
	}

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock info: %w", err)
	}

	_, err = b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
			"Info":    &dbtypes.AttributeValueMemberS{Value: string(infoJSON)},
			"Created": &dbtypes.AttributeValueMemberS{Value: info.Created.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err == nil {
		return info.ID, nil
	}

	var ccf *dbtypes.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return "", &LockError{Err: err}
	}

	holder, readErr := b.readLock(ctx)
	if readErr != nil {
		return "", &LockError{Err: readErr}
	}
	if holder != nil && holder.IsStale() {
		logging.Warn("reclaiming stale state lock", "holder", holder.Who, "created", holder.Created)
		if delErr := b.deleteLockItem(ctx, holder.ID); delErr == nil {
			return b.Lock(ctx, info)
		}
	}
	return "", &LockError{Holder: holder, Err: err}
}

func (b *s3Backend) Unlock(ctx context.Context, token string) error {
	if b.dbClient == nil {
		return nil
	}

	holder, err := b.readLock(ctx)
	if err != nil {
		return err
	}
	if holder == nil {
		return nil
	}
	if holder.ID != token {
		return &LockError{Holder: holder}
	}
	return b.deleteLockItem(ctx, token)
}

// deleteLockItem removes the lock row only if it still carries the given
// token, so a reclaim cannot clobber a lock that changed hands in between.
func (b *s3Backend) deleteLockItem(ctx context.Context, token string) error {
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
		},
		ConditionExpression: aws.String("contains(Info, :token)"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":token": &dbtypes.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (b *s3Backend) readLock(ctx context.Context) (*LockInfo, error) {
	result, err := b.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.dynamoDBTable),
		ConsistentRead: aws.Bool(true),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lock item: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	attr, ok := result.Item["Info"].(*dbtypes.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("lock item in table %s has no Info attribute", b.dynamoDBTable)
	}
	var info LockInfo
	if err := json.Unmarshal([]byte(attr.Value), &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock info: %w", err)
	}
	return &info, nil
}

func (b *s3Backend) lockKey() string {
	return b.bucket + "/" + b.key
}
