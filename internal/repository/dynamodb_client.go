package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whatsapp-relay/internal/domain"
)

const (
	skProfile = "PROFILE"
	skThread  = "THREAD"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps profiles and thread handles in one DynamoDB table,
// partitioned by user.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoDB backed store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for a WhatsApp identity.
func userPK(waID string) string {
	return "USER#" + waID
}

func userKey(waID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(waID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// UpsertProfile creates the profile on first sight and applies the
// per-message update in the same UpdateItem call, so the count is
// incremented atomically by DynamoDB.
func (s *DynamoStore) UpsertProfile(ctx context.Context, waID, name string, now time.Time) (domain.UserProfile, error) {
	ts := formatTime(now)
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       userKey(waID, skProfile),
		UpdateExpression: aws.String("SET waId = :id, #name = :name, lastActivity = :now, " +
			"createdAt = if_not_exists(createdAt, :now), " +
			"preferences = if_not_exists(preferences, :empty), " +
			"businessInfo = if_not_exists(businessInfo, :empty) " +
			"ADD messageCount :one"),
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: waID},
			":name":  &types.AttributeValueMemberS{Value: name},
			":now":   &types.AttributeValueMemberS{Value: ts},
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
			":one":   &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("repository: UpsertProfile: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.UserProfile{}, errors.New("repository: UpsertProfile: empty attributes")
	}
	p, err := itemToProfile(out.Attributes)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("repository: UpsertProfile decode: %w", err)
	}
	return p, nil
}

// ListProfiles scans every profile item. The table is small (one item per
// user) and only read by the monitoring surface.
func (s *DynamoStore) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	var (
		profiles []domain.UserProfile
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sk": &types.AttributeValueMemberS{Value: skProfile},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListProfiles scan: %w", err)
		}
		for _, item := range out.Items {
			p, err := itemToProfile(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListProfiles unmarshal: %w", err)
			}
			profiles = append(profiles, p)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].WaID < profiles[j].WaID })
	return profiles, nil
}

// FindThread returns the stored thread handle for a user, if any.
func (s *DynamoStore) FindThread(ctx context.Context, waID string) (string, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            userKey(waID, skThread),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: FindThread get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	threadID, err := strAttr(out.Item, "threadId")
	if err != nil {
		return "", false, fmt.Errorf("repository: FindThread decode: %w", err)
	}
	return threadID, true, nil
}

// StoreThread writes the thread handle once. A second write for the same
// user fails with domain.ErrThreadExists.
func (s *DynamoStore) StoreThread(ctx context.Context, waID, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("repository: StoreThread: thread id is required")
	}
	item := userKey(waID, skThread)
	item["waId"] = &types.AttributeValueMemberS{Value: waID}
	item["threadId"] = &types.AttributeValueMemberS{Value: threadID}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(time.Now())}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: StoreThread: %w", domain.ErrThreadExists)
		}
		return fmt.Errorf("repository: StoreThread: %w", err)
	}
	return nil
}

// itemToProfile converts a DynamoDB attribute map to a UserProfile.
func itemToProfile(item map[string]types.AttributeValue) (domain.UserProfile, error) {
	waID, err := strAttr(item, "waId")
	if err != nil {
		return domain.UserProfile{}, err
	}
	name, _ := strAttr(item, "name") // allow empty
	count, err := intAttr(item, "messageCount")
	if err != nil {
		return domain.UserProfile{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.UserProfile{}, err
	}
	last, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.UserProfile{}, err
	}
	return domain.UserProfile{
		WaID:         waID,
		Name:         name,
		CreatedAt:    created,
		LastActivity: last,
		MessageCount: count,
		Preferences:  mapAttr(item, "preferences"),
		BusinessInfo: mapAttr(item, "businessInfo"),
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

// mapAttr reads a string map; missing or non-string entries are skipped.
func mapAttr(item map[string]types.AttributeValue, key string) map[string]string {
	out := map[string]string{}
	m, ok := item[key].(*types.AttributeValueMemberM)
	if !ok {
		return out
	}
	for k, v := range m.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}
