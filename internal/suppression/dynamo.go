package suppression

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoBatchLimit is the BatchGetItem ceiling imposed by the service.
const dynamoBatchLimit = 100

// DynamoChecker consults a DynamoDB table whose partition key is the
// MD5 hex of the suppressed address.
type DynamoChecker struct {
	client *dynamodb.Client
	table  string
}

type suppressionItem struct {
	MD5Hash string `dynamodbav:"md5_hash"`
}

func NewDynamoChecker(client *dynamodb.Client, table string) *DynamoChecker {
	return &DynamoChecker{client: client, table: table}
}

func (c *DynamoChecker) IsSuppressed(ctx context.Context, email string) (bool, error) {
	key, err := attributevalue.MarshalMap(suppressionItem{MD5Hash: HashEmail(email)})
	if err != nil {
		return false, fmt.Errorf("suppression: marshal key: %w", err)
	}
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.table),
		Key:                  key,
		ProjectionExpression: aws.String("md5_hash"),
	})
	if err != nil {
		return false, fmt.Errorf("suppression: get item: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (c *DynamoChecker) CheckBatch(ctx context.Context, emails []string) (map[string]bool, error) {
	out := make(map[string]bool, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	// BatchGetItem rejects duplicate keys, so dedupe while remembering
	// which emails share a hash.
	byHash := make(map[string][]string, len(emails))
	for _, e := range emails {
		h := HashEmail(e)
		byHash[h] = append(byHash[h], e)
		out[e] = false
	}

	pending := make([]map[string]types.AttributeValue, 0, len(byHash))
	for h := range byHash {
		key, err := attributevalue.MarshalMap(suppressionItem{MD5Hash: h})
		if err != nil {
			return nil, fmt.Errorf("suppression: marshal key: %w", err)
		}
		pending = append(pending, key)
	}

	for len(pending) > 0 {
		chunk := pending
		if len(chunk) > dynamoBatchLimit {
			chunk = chunk[:dynamoBatchLimit]
		}
		pending = pending[len(chunk):]

		resp, err := c.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				c.table: {Keys: chunk, ProjectionExpression: aws.String("md5_hash")},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("suppression: batch get: %w", err)
		}

		var items []suppressionItem
		if err := attributevalue.UnmarshalListOfMaps(resp.Responses[c.table], &items); err != nil {
			return nil, fmt.Errorf("suppression: unmarshal items: %w", err)
		}
		for _, item := range items {
			for _, e := range byHash[item.MD5Hash] {
				out[e] = true
			}
		}

		// The service may return a partial page under load; requeue
		// whatever it left unprocessed.
		if unp, ok := resp.UnprocessedKeys[c.table]; ok && len(unp.Keys) > 0 {
			pending = append(pending, unp.Keys...)
		}
	}

	return out, nil
}
