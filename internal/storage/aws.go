package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	snapshotKey = "snapshot/cleaned_data_corrected.csv"
	runPK       = "RUN"
	runTTL      = 180 * 24 * time.Hour
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AWSStorage mirrors snapshots to S3 and keeps the run log in DynamoDB.
type AWSStorage struct {
	s3        S3API
	dynamoDB  DynamoAPI
	bucket    string
	prefix    string
	tableName string
}

// runItem is the DynamoDB shape of a RunRecord.
type runItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	RunRecord
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// NewAWSStorage loads the default AWS config for region, optionally with a
// shared profile.
func NewAWSStorage(ctx context.Context, tableName, bucket, prefix, region, profile string) (*AWSStorage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewAWSStorageWithClients(s3.NewFromConfig(cfg), dynamodb.NewFromConfig(cfg), tableName, bucket, prefix), nil
}

// NewAWSStorageWithClients wires explicit clients.
func NewAWSStorageWithClients(s3c S3API, ddb DynamoAPI, tableName, bucket, prefix string) *AWSStorage {
	return &AWSStorage{s3: s3c, dynamoDB: ddb, bucket: bucket, prefix: prefix, tableName: tableName}
}

func (s *AWSStorage) PutSnapshot(ctx context.Context, data []byte) error {
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + snapshotKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot to S3: %w", err)
	}
	return nil
}

// GetSnapshot returns ErrNoSnapshot when the object does not exist.
func (s *AWSStorage) GetSnapshot(ctx context.Context) ([]byte, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + snapshotKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("downloading snapshot from S3: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *AWSStorage) PutRun(ctx context.Context, rec RunRecord) error {
	item := runItem{
		PK:        runPK,
		SK:        rec.StartedAt.UTC().Format(time.RFC3339Nano) + "#" + rec.ID,
		RunRecord: rec,
		TTL:       rec.StartedAt.Add(runTTL).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting run to DynamoDB: %w", err)
	}
	return nil
}

// RecentRuns queries the run partition newest first.
func (s *AWSStorage) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: runPK},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	out, err := s.dynamoDB.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}

	runs := make([]RunRecord, 0, len(out.Items))
	for _, av := range out.Items {
		var item runItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		runs = append(runs, item.RunRecord)
	}
	return runs, nil
}
