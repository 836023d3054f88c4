package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
)

func (client *Client) SendPushNotification(
	ctx context.Context,
	endpointArn,
	message string,
) error {
	_, err := client.sns.Publish(ctx, &sns.PublishInput{
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
		TargetArn:        aws.String(endpointArn),
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// NotifyChallenge pushes a direct-invite alert. Users without a registered
// endpoint, or with notifications disabled, are silently skipped.
func (client *Client) NotifyChallenge(ctx context.Context, userId, fromUsername, sessionId string) error {
	endpoint, err := client.endpoints.GetApplicationEndpoint(ctx, userId)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationEndpointNotFound) {
			return nil
		}
		return err
	}
	if !endpoint.NotificationsEnabled {
		return nil
	}
	message, err := json.Marshal(map[string]string{
		"type":      "challenge",
		"sessionId": sessionId,
		"from":      fromUsername,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return client.SendPushNotification(ctx, endpoint.EndpointArn, string(message))
}

// NotifyGameOver pushes the result to both players.
func (client *Client) NotifyGameOver(ctx context.Context, userIds []string, sessionId string, record entities.GameOverRecord) error {
	message, err := json.Marshal(map[string]string{
		"type":      "game_over",
		"sessionId": sessionId,
		"winnerId":  record.WinnerId,
		"condition": record.Condition,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	for _, userId := range userIds {
		endpoint, err := client.endpoints.GetApplicationEndpoint(ctx, userId)
		if err != nil {
			if errors.Is(err, storage.ErrApplicationEndpointNotFound) {
				continue
			}
			return err
		}
		if !endpoint.NotificationsEnabled {
			continue
		}
		if err := client.SendPushNotification(ctx, endpoint.EndpointArn, string(message)); err != nil {
			return err
		}
	}
	return nil
}
