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

	"npc-dialogue-agent/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	ttlDuration  = 7 * 24 * time.Hour // sessions expire a week after the last turn
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the session state operations consumed by the dialogue service.
type ReadWriter interface {
	GetSessionTurnCount(ctx context.Context, sessionID string) (int, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, sessionID, npcID, playerLine, npcLine string, turns int) error
	WriteTurn(ctx context.Context, turn domain.Turn) error
	UpsertMeta(ctx context.Context, meta domain.SessionMeta) error
}

// Client wraps a DynamoDB table for per-session dialogue state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK returns the sort key for a turn using the current UTC timestamp.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp one TTL duration in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetHistory queries the TURN# items for a session ordered chronologically.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	pk := sessionPK(sessionID)

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetSessionTurnCount returns the persisted successful turn count for a session.
func (c *Client) GetSessionTurnCount(ctx context.Context, sessionID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetSessionTurnCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: GetSessionTurnCount decode turns: %w", err)
	}
	return turns, nil
}

// WriteTurn persists a new turn record.
func (c *Client) WriteTurn(ctx context.Context, turn domain.Turn) error {
	if turn.PK == "" || turn.SK == "" {
		return errors.New("repository: WriteTurn: PK and SK are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: WriteTurn: %w", err)
	}
	return nil
}

// UpsertMeta writes or replaces the session metadata record.
func (c *Client) UpsertMeta(ctx context.Context, meta domain.SessionMeta) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(meta),
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertMeta: %w", err)
	}
	return nil
}

// SaveTurn writes the completed turn and updated metadata in one transaction.
func (c *Client) SaveTurn(ctx context.Context, turn domain.Turn, meta domain.SessionMeta) error {
	if turn.PK == "" || turn.SK == "" {
		return errors.New("repository: SaveTurn: turn PK and SK are required")
	}
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveTurn: meta PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(meta),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveCompletedTurn persists the finished exchange and updates metadata.
func (c *Client) SaveCompletedTurn(ctx context.Context, sessionID, npcID, playerLine, npcLine string, turns int) error {
	turn := NewTurn(sessionID, npcID, playerLine, "complete")
	turn.NPCLine = npcLine
	meta := NewSessionMeta(sessionID, npcID, turns)
	if err := c.SaveTurn(ctx, turn, meta); err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// NewTurn constructs a Turn with PK/SK/TTL set from sessionID and current time.
func NewTurn(sessionID, npcID, playerLine, status string) domain.Turn {
	now := time.Now().UTC()
	return domain.Turn{
		PK:         sessionPK(sessionID),
		SK:         turnSK(now),
		SessionID:  sessionID,
		NPCID:      npcID,
		PlayerLine: playerLine,
		Status:     status,
		TTL:        ttlValue(),
	}
}

// NewSessionMeta constructs a SessionMeta record.
func NewSessionMeta(sessionID, npcID string, turns int) domain.SessionMeta {
	return domain.SessionMeta{
		PK:           sessionPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		NPCID:        npcID,
		LastActivity: time.Now().UTC().Format(time.RFC3339),
		Turns:        turns,
		TTL:          ttlValue(),
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	npcLine, err := strAttr(item, "npcLine")
	if err != nil {
		return domain.Turn{}, err
	}
	playerLine, _ := strAttr(item, "playerLine") // empty for NPC-initiated turns
	status, _ := strAttr(item, "status")         // allow empty
	npcID, _ := strAttr(item, "npcId")           // allow empty

	return domain.Turn{
		PK:         pk,
		SK:         sk,
		NPCID:      npcID,
		PlayerLine: playerLine,
		NPCLine:    npcLine,
		Status:     status,
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: turn.PK},
		"SK":         &types.AttributeValueMemberS{Value: turn.SK},
		"sessionId":  &types.AttributeValueMemberS{Value: turn.SessionID},
		"npcId":      &types.AttributeValueMemberS{Value: turn.NPCID},
		"playerLine": &types.AttributeValueMemberS{Value: turn.PlayerLine},
		"npcLine":    &types.AttributeValueMemberS{Value: turn.NPCLine},
		"status":     &types.AttributeValueMemberS{Value: turn.Status},
		"ttl":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TTL)},
	}
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":    &types.AttributeValueMemberS{Value: meta.SessionID},
		"npcId":        &types.AttributeValueMemberS{Value: meta.NPCID},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"turns":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.Turns)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
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
