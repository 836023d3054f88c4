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
	matchmakingService *matchmaking.Service
	computeClient      *compute.Client
)

func init() {
	cfg, _ := config.LoadDefaultConfig(context.TODO())
	storageClient := storage.NewClient(dynamodb.NewFromConfig(cfg))
	computeClient = compute.NewClient(ecs.NewFromConfig(cfg), ec2.NewFromConfig(cfg))
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
		computeClient,
	)
}

func handler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	profile := auth.MustAuth(event.RequestContext.Authorizer)

	var req dtos.CreateSessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil || req.Faction == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	// Plain searches try to fill the oldest open seat before opening a new
	// one. Direct challenges always open a fresh session.
	if req.OpponentId == "" {
		open, found, err := matchmakingService.FindOpenSession(ctx, profile.Id)
		if err != nil {
			logging.Error("Failed to search open sessions", zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}
		if found {
			session, err := matchmakingService.JoinSession(ctx, open, profile, req.Faction)
			if err == nil {
				body, _ := json.Marshal(dtos.NewSessionResponse(session))
				return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
			}
			if !errors.Is(err, matchmaking.ErrSessionFull) {
				logging.Error("Failed to join open session", zap.Error(err))
				return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
			}
			// Lost the slot race; fall through to opening a new session.
		}
	}

	session, err := matchmakingService.CreateSession(ctx, profile, req.Faction, req.OpponentId)
	if err != nil {
		if errors.Is(err, matchmaking.ErrNoServer) {
			// No running task can take another session; grow the fleet and
			// have the client retry once a task comes up.
			if scaleErr := computeClient.ScaleUp(ctx); scaleErr != nil {
				logging.Error("Failed to scale up session servers", zap.Error(scaleErr))
			}
			return events.APIGatewayProxyResponse{StatusCode: http.StatusServiceUnavailable}, nil
		}
		logging.Error("Failed to create session", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	body, _ := json.Marshal(dtos.NewSessionResponse(session))
	return events.APIGatewayProxyResponse{StatusCode: http.StatusCreated, Body: string(body)}, nil
}

func main() {
	lambda.Start(handler)
}
