package notification

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
)

// EndpointResolver looks up the push endpoint registered for a user.
type EndpointResolver interface {
	GetApplicationEndpoint(ctx context.Context, userId string) (entities.ApplicationEndpoint, error)
}

type Client struct {
	sns       *sns.Client
	endpoints EndpointResolver
}

func NewClient(snsClient *sns.Client, endpoints EndpointResolver) *Client {
	return &Client{
		sns:       snsClient,
		endpoints: endpoints,
	}
}
