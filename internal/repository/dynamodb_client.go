package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"counsel-bot/internal/domain"
)

const (
	skPrefixExchange = "EXCH#"
	skMeta           = "META#"
	seqWidth         = 20
)

// DynamoDBAPI is the minimal DynamoDB interface required by Client.
// *dynamodb.Client satisfies it; tests use a fake.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding one exchange log per user.
//
// Layout: PK=USER#<id>; exchanges at SK=EXCH#<zero padded sequence>; a META#
// item tracks the last sequence and timestamp so appends stay ordered.
type Client struct {
	api       DynamoDBAPI
	tableName string
	retention time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithRetention sets a TTL on every written item. Zero keeps items forever.
func WithRetention(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retention = d
		}
	}
}

// New creates a new repository Client.
func New(api DynamoDBAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type userMeta struct {
	exists        bool
	lastSeq       int64
	lastTimestamp time.Time
}

func userPK(userID string) string {
	return "USER#" + userID
}

func exchangeSK(seq int64) string {
	return fmt.Sprintf("%s%0*d", skPrefixExchange, seqWidth, seq)
}

// LoadRecent returns up to limit of the newest exchanges for userID, oldest first.
func (c *Client) LoadRecent(ctx context.Context, userID string, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		return []domain.Exchange{}, nil
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixExchange},
		},
		// Newest first so the limit keeps the most recent exchanges.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadRecent query: %w: %w", ErrStoreUnavailable, err)
	}

	exchanges := make([]domain.Exchange, 0, len(out.Items))
	for _, item := range out.Items {
		ex, err := itemToExchange(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadRecent unmarshal: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	if len(exchanges) > limit {
		exchanges = exchanges[:limit]
	}
	reverse(exchanges)
	return exchanges, nil
}

// Append persists one exchange with the next sequence number for userID.
// The META# item is written in the same transaction under a condition on the
// sequence that was read, so a concurrent writer fails instead of overwriting.
func (c *Client) Append(ctx context.Context, userID, question, answer string, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Append: user id is required")
	}

	meta, err := c.readMeta(ctx, userID)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}

	ex := domain.Exchange{
		Sequence:  meta.lastSeq + 1,
		Timestamp: clampTimestamp(at, meta.lastTimestamp),
		Question:  question,
		Answer:    answer,
	}

	metaPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      c.metaItem(userID, ex),
	}
	if meta.exists {
		metaPut.ConditionExpression = aws.String("lastSeq = :prev")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.lastSeq, 10)},
		}
	} else {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                c.exchangeItem(userID, ex),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{Put: metaPut},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("repository: Append: %w: %w", ErrSequenceConflict, err)
		}
		return fmt.Errorf("repository: Append: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op; the SDK client is shared for the process lifetime.
func (c *Client) Close() error { return nil }

func (c *Client) readMeta(ctx context.Context, userID string) (userMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return userMeta{}, fmt.Errorf("get meta: %w: %w", ErrStoreUnavailable, err)
	}
	if out == nil || len(out.Item) == 0 {
		return userMeta{}, nil
	}

	seq, err := int64Attr(out.Item, "lastSeq")
	if err != nil {
		return userMeta{}, fmt.Errorf("decode lastSeq: %w", err)
	}
	ts, err := timeAttr(out.Item, "lastTimestamp")
	if err != nil {
		return userMeta{}, fmt.Errorf("decode lastTimestamp: %w", err)
	}
	return userMeta{exists: true, lastSeq: seq, lastTimestamp: ts}, nil
}

func (c *Client) exchangeItem(userID string, ex domain.Exchange) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":       &types.AttributeValueMemberS{Value: exchangeSK(ex.Sequence)},
		"userId":   &types.AttributeValueMemberS{Value: userID},
		"seq":      &types.AttributeValueMemberN{Value: strconv.FormatInt(ex.Sequence, 10)},
		"ts":       &types.AttributeValueMemberS{Value: ex.Timestamp.Format(time.RFC3339Nano)},
		"question": &types.AttributeValueMemberS{Value: ex.Question},
		"answer":   &types.AttributeValueMemberS{Value: ex.Answer},
	}
	c.setTTL(item)
	return item
}

func (c *Client) metaItem(userID string, last domain.Exchange) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":            &types.AttributeValueMemberS{Value: skMeta},
		"userId":        &types.AttributeValueMemberS{Value: userID},
		"lastSeq":       &types.AttributeValueMemberN{Value: strconv.FormatInt(last.Sequence, 10)},
		"lastTimestamp": &types.AttributeValueMemberS{Value: last.Timestamp.Format(time.RFC3339Nano)},
		"lastActivity":  &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
	}
	c.setTTL(item)
	return item
}

func (c *Client) setTTL(item map[string]types.AttributeValue) {
	if c.retention <= 0 {
		return
	}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Add(c.retention).Unix(), 10)}
}

// itemToExchange converts a DynamoDB attribute map to an Exchange.
func itemToExchange(item map[string]types.AttributeValue) (domain.Exchange, error) {
	seq, err := int64Attr(item, "seq")
	if err != nil {
		return domain.Exchange{}, err
	}
	ts, err := timeAttr(item, "ts")
	if err != nil {
		return domain.Exchange{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Exchange{}, err
	}
	answer, err := strAttr(item, "answer")
	if err != nil {
		return domain.Exchange{}, err
	}
	return domain.Exchange{
		Sequence:  seq,
		Timestamp: ts,
		Question:  question,
		Answer:    answer,
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
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
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts.UTC(), nil
}
