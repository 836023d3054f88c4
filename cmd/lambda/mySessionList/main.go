package main

import (
	"context"
	"encoding/json"
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

	sessions, err := matchmakingService.ListUserSessions(ctx, profile.Id)
	if err != nil {
		logging.Error("Failed to list sessions", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	body, err := json.Marshal(dtos.NewSessionListResponse(sessions))
	if err != nil {
		logging.Error("Failed to list sessions", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func main() {
	lambda.Start(handler)
}
