package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/crystalfall/crystalfall/internal/app/server"
	"github.com/crystalfall/crystalfall/internal/aws/compute"
	"github.com/crystalfall/crystalfall/internal/aws/notification"
	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/crystalfall/crystalfall/internal/matchmaking"
	"github.com/crystalfall/crystalfall/internal/presence"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := server.NewConfig()

	tokenSigningKeyUrl := fmt.Sprintf(
		"https://cognito-idp.%s.amazonaws.com/%s/.well-known/jwks.json",
		cfg.AwsRegion,
		cfg.CognitoUserPoolId,
	)
	cognitoPublicKeys, err := server.LoadCognitoPublicKeys(tokenSigningKeyUrl)
	if err != nil {
		panic(err)
	}

	awsCfg, _ := config.LoadDefaultConfig(context.TODO())
	storageClient := storage.NewClient(dynamodb.NewFromConfig(awsCfg))
	notificationClient := notification.NewClient(sns.NewFromConfig(awsCfg), storageClient)
	computeClient := compute.NewClient(ecs.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg))

	bus := presence.NewRedisBus(
		redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		}),
		cfg.OnlineTTL,
	)

	matchmakingService := matchmaking.NewService(
		storageClient,
		bus,
		notificationClient,
		game.NewStaticFactory(),
		computeClient,
	)

	srv := server.NewServer(cfg, server.Dependencies{
		Store:    storageClient,
		Lister:   matchmakingService,
		Bus:      bus,
		Notifier: notificationClient,
		Evaluate: game.EvaluateGameOver,
		Keys:     cognitoPublicKeys,
	})
	logging.Fatal("Session server exited: ", zap.Error(srv.Start()))
}
