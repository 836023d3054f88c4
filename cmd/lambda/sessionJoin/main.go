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

var (
	storageClient      *storage.Client
	matchmakingService *matchmaking.Service
)

func init() {
	cfg, _ := config.LoadDefaultConfig(context.TODO())
	storageClient = storage.NewClient(dynamodb.NewFromConfig(cfg))
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

	var req dtos.JoinSessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil || req.Faction == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	session, err := storageClient.GetSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound}, nil
		}
		logging.Error("Failed to get session", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	session, err = matchmakingService.JoinSession(ctx, session, profile, req.Faction)
	if err != nil {
		switch {
		case errors.Is(err, matchmaking.ErrSessionFull):
			return events.APIGatewayProxyResponse{StatusCode: http.StatusConflict}, nil
		case errors.Is(err, matchmaking.ErrNotAuthorized),
			errors.Is(err, matchmaking.ErrInvalidJoin):
			return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}, nil
		}
		logging.Error("Failed to join session", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	body, _ := json.Marshal(dtos.NewSessionResponse(session))
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func main() {
	lambda.Start(handler)
}
