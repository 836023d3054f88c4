package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/crystalfall/crystalfall/internal/aws/auth"
	"github.com/crystalfall/crystalfall/internal/aws/compute"
	"github.com/crystalfall/crystalfall/internal/aws/notification"
	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/crystalfall/crystalfall/internal/matchmaking"
	"github.com/crystalfall/crystalfall/internal/presence"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var matchmakingService *matchmaking.Service

func init() {
	cfg, _ := config.LoadDefaultConfig(context.TODO())
	storageClient := storage.NewClient(dynamodb.NewFromConfig(cfg))
	matchmakingService = matchmaking.NewService(
		storageClient,
		presence.NewRedisBus(
			redis.NewClient(&redis.Options{
				Addr:     os.Getenv("REDIS_ADDRESS"),
				Password: os.Getenv("REDIS_PASSWORD"),
			}),
			2*time.Minute,
		),
		notification.NewClient(sns.NewFromConfig(cfg), storageClient),
		game.NewStaticFactory(),
		compute.NewClient(ecs.NewFromConfig(cfg), ec2.NewFromConfig(cfg)),
	)
}

func handler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	profile := auth.MustAuth(event.RequestContext.Authorizer)
	sessionId, ok := event.PathParameters["sessionId"]
	if !ok {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	var req dtos.TerminateSessionRequest
	if event.Body != "" {
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
		}
	}

	// Conceding ends a live session in the opponent's favor; the default
	// cancels a session that never started.
	if req.Reason == dtos.TerminateReasonConceded {
		record, err := matchmakingService.Concede(ctx, profile.Id, sessionId)
		if err != nil {
			switch {
			case errors.Is(err, matchmaking.ErrSessionNotFound):
				return events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound}, nil
			case errors.Is(err, matchmaking.ErrNotAuthorized):
				return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}, nil
			case errors.Is(err, matchmaking.ErrNotPlaying):
				return events.APIGatewayProxyResponse{StatusCode: http.StatusConflict}, nil
			}
			logging.Error("Failed to concede session", zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}
		body, _ := json.Marshal(record)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
	}

	affectedUserIds, err := matchmakingService.DeleteSession(ctx, profile.Id, sessionId)
	if err != nil {
		switch {
		case errors.Is(err, matchmaking.ErrSessionNotFound):
			return events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound}, nil
		case errors.Is(err, matchmaking.ErrNotAuthorized):
			return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}, nil
		case errors.Is(err, matchmaking.ErrInvalidDeletion):
			return events.APIGatewayProxyResponse{StatusCode: http.StatusConflict}, nil
		}
		logging.Error("Failed to delete session", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	body, _ := json.Marshal(dtos.DeleteSessionResponse{AffectedUserIds: affectedUserIds})
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func main() {
	lambda.Start(handler)
}
