package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
)

const statusCreatedAtIndexName = "StatusCreatedAtIndex"

var (
	ErrSessionNotFound = fmt.Errorf("session not found")

	// ErrConditionFailed means a conditional write lost to a concurrent
	// mutation; callers translate it into their own taxonomy.
	ErrConditionFailed = fmt.Errorf("conditional write failed")
)

func (client *Client) GetSession(ctx context.Context, sessionId string) (entities.Session, error) {
	output, err := client.dynamodb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: client.cfg.SessionsTableName,
		Key: map[string]types.AttributeValue{
			"SessionId": &types.AttributeValueMemberS{Value: sessionId},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return entities.Session{}, err
	}
	if output.Item == nil {
		return entities.Session{}, ErrSessionNotFound
	}
	var session entities.Session
	if err := attributevalue.UnmarshalMap(output.Item, &session); err != nil {
		return entities.Session{}, err
	}
	return session, nil
}

// PutSession creates a new session document. Creation never overwrites; ids
// are uuids so a collision is treated as a conflict.
func (client *Client) PutSession(ctx context.Context, session entities.Session) error {
	av, err := marshalSession(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = client.dynamodb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           client.cfg.SessionsTableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SessionId)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

// FillSlotAndStart commits the matchmaking hot spot: it writes the fully
// seeded session (both slots, PLAYING, turn zero) guarded on the document
// still holding its pre-join shape. Exactly one of two racing joins can win.
func (client *Client) FillSlotAndStart(ctx context.Context, session entities.Session, fromStatus entities.SessionStatus) error {
	slots, err := attributevalue.MarshalList(session.Slots)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}
	setup, err := attributevalue.Marshal(session.Setup)
	if err != nil {
		return fmt.Errorf("failed to marshal setup: %w", err)
	}

	condition := "#s = :from"
	values := map[string]types.AttributeValue{
		":from":         &types.AttributeValueMemberS{Value: string(fromStatus)},
		":slots":        &types.AttributeValueMemberL{Value: slots},
		":playing":      &types.AttributeValueMemberS{Value: string(entities.StatusPlaying)},
		":activePlayer": &types.AttributeValueMemberS{Value: session.ActivePlayerId},
		":setup":        setup,
		":empty":        &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		":zero":         &types.AttributeValueMemberN{Value: "0"},
		":lastPlayedAt": &types.AttributeValueMemberS{Value: session.LastPlayedAt.Format(time.RFC3339Nano)},
		":playerIds":    playerIdList(session),
	}
	if fromStatus == entities.StatusSearching {
		// The second slot must still be empty.
		condition += " AND size(Slots) = :one"
		values[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}

	_, err = client.dynamodb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: client.cfg.SessionsTableName,
		Key: map[string]types.AttributeValue{
			"SessionId": &types.AttributeValueMemberS{Value: session.Id},
		},
		UpdateExpression: aws.String(
			"SET Slots = :slots, #s = :playing, ActivePlayerId = :activePlayer, " +
				"Setup = :setup, Turns = :empty, TurnNumber = :zero, " +
				"LastPlayedAt = :lastPlayedAt, PlayerIds = :playerIds",
		),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  map[string]string{"#s": "Status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to fill slot: %w", err)
	}
	return nil
}

// ApplyTurn appends a snapshot and advances the turn, guarded on the
// previously observed turn number.
func (client *Client) ApplyTurn(
	ctx context.Context,
	sessionId string,
	snapshot entities.TurnSnapshot,
	activePlayerId string,
	previousTurn int,
	lastPlayedAt time.Time,
) error {
	snap, err := attributevalue.MarshalList([]entities.TurnSnapshot{snapshot})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = client.dynamodb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: client.cfg.SessionsTableName,
		Key: map[string]types.AttributeValue{
			"SessionId": &types.AttributeValueMemberS{Value: sessionId},
		},
		UpdateExpression: aws.String(
			"SET TurnNumber = :next, ActivePlayerId = :activePlayer, " +
				"Turns = list_append(Turns, :snap), LastPlayedAt = :lastPlayedAt",
		),
		ConditionExpression:      aws.String("#s = :playing AND TurnNumber = :prev"),
		ExpressionAttributeNames: map[string]string{"#s": "Status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":playing":      &types.AttributeValueMemberS{Value: string(entities.StatusPlaying)},
			":prev":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", previousTurn)},
			":next":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", previousTurn+1)},
			":activePlayer": &types.AttributeValueMemberS{Value: activePlayerId},
			":snap":         &types.AttributeValueMemberL{Value: snap},
			":lastPlayedAt": &types.AttributeValueMemberS{Value: lastPlayedAt.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to apply turn: %w", err)
	}
	return nil
}

// FinishSession writes the game-over record exactly once. When the
// terminating turn carries a final snapshot it is appended in the same write.
func (client *Client) FinishSession(
	ctx context.Context,
	sessionId string,
	record entities.GameOverRecord,
	finalSnapshot *entities.TurnSnapshot,
	previousTurn int,
	finishedAt time.Time,
) error {
	rec, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal game over record: %w", err)
	}

	update := "SET #s = :finished, GameOver = :record, FinishedAt = :finishedAt, LastPlayedAt = :finishedAt"
	values := map[string]types.AttributeValue{
		":playing":    &types.AttributeValueMemberS{Value: string(entities.StatusPlaying)},
		":finished":   &types.AttributeValueMemberS{Value: string(entities.StatusFinished)},
		":record":     &types.AttributeValueMemberM{Value: rec},
		":finishedAt": &types.AttributeValueMemberS{Value: finishedAt.Format(time.RFC3339Nano)},
		":prev":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", previousTurn)},
	}
	if finalSnapshot != nil {
		snap, err := attributevalue.MarshalList([]entities.TurnSnapshot{*finalSnapshot})
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		update += ", Turns = list_append(Turns, :snap), TurnNumber = :next"
		values[":snap"] = &types.AttributeValueMemberL{Value: snap}
		values[":next"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", previousTurn+1)}
	}

	_, err = client.dynamodb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: client.cfg.SessionsTableName,
		Key: map[string]types.AttributeValue{
			"SessionId": &types.AttributeValueMemberS{Value: sessionId},
		},
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("#s = :playing AND TurnNumber = :prev AND attribute_not_exists(GameOver)"),
		ExpressionAttributeNames:  map[string]string{"#s": "Status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// DeleteSession removes an open session. The guard keeps a PLAYING or
// FINISHED document intact no matter what the caller believed.
func (client *Client) DeleteSession(ctx context.Context, sessionId, playerId string) error {
	_, err := client.dynamodb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: client.cfg.SessionsTableName,
		Key: map[string]types.AttributeValue{
			"SessionId": &types.AttributeValueMemberS{Value: sessionId},
		},
		ConditionExpression: aws.String(
			"(#s = :searching OR #s = :challenge) AND contains(PlayerIds, :playerId)",
		),
		ExpressionAttributeNames: map[string]string{"#s": "Status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":searching": &types.AttributeValueMemberS{Value: string(entities.StatusSearching)},
			":challenge": &types.AttributeValueMemberS{Value: string(entities.StatusChallenge)},
			":playerId":  &types.AttributeValueMemberS{Value: playerId},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// FetchOpenSessions returns SEARCHING sessions oldest first, optionally
// excluding sessions occupied by the given player.
func (client *Client) FetchOpenSessions(
	ctx context.Context,
	excludePlayerId string,
	limit int32,
) ([]entities.Session, error) {
	input := &dynamodb.QueryInput{
		TableName:              client.cfg.SessionsTableName,
		IndexName:              aws.String(statusCreatedAtIndexName),
		KeyConditionExpression: aws.String("#s = :searching"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":searching": &types.AttributeValueMemberS{Value: string(entities.StatusSearching)},
		},
		ScanIndexForward: aws.Bool(true), // oldest searching first
		Limit:            aws.Int32(limit),
	}
	if excludePlayerId != "" {
		input.FilterExpression = aws.String("NOT contains(PlayerIds, :playerId)")
		input.ExpressionAttributeValues[":playerId"] = &types.AttributeValueMemberS{Value: excludePlayerId}
	}
	output, err := client.dynamodb.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	var sessions []entities.Session
	if err := attributevalue.UnmarshalListOfMaps(output.Items, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FetchUserOpenSessions returns every non-terminal session the user occupies.
func (client *Client) FetchUserOpenSessions(ctx context.Context, userId string) ([]entities.Session, error) {
	var sessions []entities.Session
	for _, status := range []entities.SessionStatus{
		entities.StatusSearching,
		entities.StatusChallenge,
		entities.StatusPlaying,
	} {
		batch, err := client.queryUserSessionsByStatus(ctx, userId, status, true, nil)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, batch...)
	}
	return sessions, nil
}

// FetchUserFinishedSessions returns the user's most recently finished
// sessions, newest first. The index the query runs on is keyed on CreatedAt
// and finish order can differ from creation order, so the set is re-sorted
// on FinishedAt before the window is cut.
func (client *Client) FetchUserFinishedSessions(ctx context.Context, userId string, limit int) ([]entities.Session, error) {
	sessions, err := client.queryUserSessionsByStatus(ctx, userId, entities.StatusFinished, false, nil)
	if err != nil {
		return nil, err
	}
	sortFinishedNewestFirst(sessions)
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func sortFinishedNewestFirst(sessions []entities.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return finishTime(sessions[i]).After(finishTime(sessions[j]))
	})
}

func finishTime(session entities.Session) time.Time {
	if session.FinishedAt != nil {
		return *session.FinishedAt
	}
	return session.CreatedAt
}

func (client *Client) queryUserSessionsByStatus(
	ctx context.Context,
	userId string,
	status entities.SessionStatus,
	ascending bool,
	lastKey map[string]types.AttributeValue,
) ([]entities.Session, error) {
	output, err := client.dynamodb.Query(ctx, &dynamodb.QueryInput{
		TableName:              client.cfg.SessionsTableName,
		IndexName:              aws.String(statusCreatedAtIndexName),
		KeyConditionExpression: aws.String("#s = :status"),
		FilterExpression:       aws.String("contains(PlayerIds, :userId)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":userId": &types.AttributeValueMemberS{Value: userId},
		},
		ScanIndexForward:  aws.Bool(ascending),
		ExclusiveStartKey: lastKey,
	})
	if err != nil {
		return nil, err
	}
	var sessions []entities.Session
	if err := attributevalue.UnmarshalListOfMaps(output.Items, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func marshalSession(session entities.Session) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(session)
	if err != nil {
		return nil, err
	}
	// Denormalized occupancy list; lets queries and guards test membership
	// without walking the slot structure.
	av["PlayerIds"] = playerIdList(session)
	return av, nil
}

func playerIdList(session entities.Session) *types.AttributeValueMemberL {
	ids := make([]types.AttributeValue, 0, len(session.Slots))
	for _, slot := range session.Slots {
		ids = append(ids, &types.AttributeValueMemberS{Value: slot.PlayerId})
	}
	return &types.AttributeValueMemberL{Value: ids}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
