package compute

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
)

// ecsAPI and ec2API cover the slice of the SDK clients the placement logic
// calls. *ecs.Client and *ec2.Client satisfy them.
type ecsAPI interface {
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

type ec2API interface {
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

type config struct {
	ClusterName *string
	ServiceName *string
	StatusPort  int
}

type Client struct {
	ecs  ecsAPI
	ec2  ec2API
	http *http.Client
	cfg  config
}

func NewClient(ecsClient ecsAPI, ec2Client ec2API) *Client {
	return &Client{
		ecs:  ecsClient,
		ec2:  ec2Client,
		http: &http.Client{Timeout: 5 * time.Second},
		cfg: config{
			ClusterName: aws.String(os.Getenv("SESSION_SERVER_CLUSTER")),
			ServiceName: aws.String(os.Getenv("SESSION_SERVER_SERVICE")),
			StatusPort:  7202,
		},
	}
}
