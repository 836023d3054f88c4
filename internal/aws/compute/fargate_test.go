package compute

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEcs struct {
	taskArns      []string
	updateService *ecs.UpdateServiceInput
}

func (f *fakeEcs) ListTasks(_ context.Context, _ *ecs.ListTasksInput, _ ...func(*ecs.Options)) (*ecs.ListTasksOutput, error) {
	return &ecs.ListTasksOutput{TaskArns: f.taskArns}, nil
}

func (f *fakeEcs) DescribeTasks(_ context.Context, _ *ecs.DescribeTasksInput, _ ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	return &ecs.DescribeTasksOutput{}, nil
}

func (f *fakeEcs) UpdateService(_ context.Context, params *ecs.UpdateServiceInput, _ ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	f.updateService = params
	return &ecs.UpdateServiceOutput{}, nil
}

type fakeEc2 struct{}

func (fakeEc2) DescribeNetworkInterfaces(_ context.Context, _ *ec2.DescribeNetworkInterfacesInput, _ ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	return &ec2.DescribeNetworkInterfacesOutput{}, nil
}

func TestScaleUpAddsOneTask(t *testing.T) {
	ecsClient := &fakeEcs{taskArns: []string{"task-1", "task-2"}}
	client := NewClient(ecsClient, fakeEc2{})

	err := client.ScaleUp(context.Background())

	require.NoError(t, err)
	require.NotNil(t, ecsClient.updateService)
	assert.Equal(t, int32(3), aws.ToInt32(ecsClient.updateService.DesiredCount))
}

func TestLocateServerNoRunningTasks(t *testing.T) {
	client := NewClient(&fakeEcs{}, fakeEc2{})

	_, err := client.LocateServer(context.Background())

	assert.ErrorIs(t, err, ErrNoServerAvailable)
}
