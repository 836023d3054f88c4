package storage

import (
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type config struct {
	SessionsTableName             *string
	ApplicationEndpointsTableName *string
}

type Client struct {
	dynamodb *dynamodb.Client
	cfg      config
}

func NewClient(dynamoClient *dynamodb.Client) *Client {
	return &Client{
		dynamodb: dynamoClient,
		cfg:      loadConfig(),
	}
}

func loadConfig() config {
	return config{
		SessionsTableName:             aws.String(envOrDefault("SESSIONS_TABLE_NAME", "Sessions")),
		ApplicationEndpointsTableName: aws.String(envOrDefault("APPLICATION_ENDPOINTS_TABLE_NAME", "ApplicationEndpoints")),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
