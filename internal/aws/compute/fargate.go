package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/pkg/logging"
)

var (
	ErrNoServerAvailable   = fmt.Errorf("no session server available")
	ErrUnknownServerStatus = fmt.Errorf("unknown session server status")
)

// LocateServer finds the public IP of a running session-server task that can
// accept a new session. Newest tasks are preferred so scale-downs drain the
// oldest ones.
func (client *Client) LocateServer(ctx context.Context) (string, error) {
	listTasksOutput, err := client.ecs.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:       client.cfg.ClusterName,
		ServiceName:   client.cfg.ServiceName,
		DesiredStatus: "RUNNING",
	})
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(listTasksOutput.TaskArns) == 0 {
		return "", ErrNoServerAvailable
	}

	describeTasksOutput, err := client.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: client.cfg.ClusterName,
		Tasks:   listTasksOutput.TaskArns,
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe ECS tasks: %w", err)
	}

	sort.Slice(describeTasksOutput.Tasks, func(i, j int) bool {
		if describeTasksOutput.Tasks[i].StartedAt == nil || describeTasksOutput.Tasks[j].StartedAt == nil {
			return describeTasksOutput.Tasks[j].StartedAt == nil
		}
		return describeTasksOutput.Tasks[i].StartedAt.After(*describeTasksOutput.Tasks[j].StartedAt)
	})

	for _, task := range describeTasksOutput.Tasks {
		for _, attachment := range task.Attachments {
			for _, detail := range attachment.Details {
				if detail.Name == nil || *detail.Name != "networkInterfaceId" {
					continue
				}
				eniOutput, err := client.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
					NetworkInterfaceIds: []string{*detail.Value},
				})
				if err != nil {
					return "", fmt.Errorf("failed to describe ENI: %w", err)
				}
				for _, eni := range eniOutput.NetworkInterfaces {
					if eni.Association == nil || eni.Association.PublicIp == nil {
						continue
					}
					serverIp := *eni.Association.PublicIp
					status, err := client.GetServerStatus(serverIp, client.cfg.StatusPort)
					if err != nil {
						logging.Info("skipping unreachable session server")
						continue
					}
					if status.CanAccept {
						return serverIp, nil
					}
				}
			}
		}
	}

	return "", ErrNoServerAvailable
}

// ScaleUp asks ECS for one more session-server task.
func (client *Client) ScaleUp(ctx context.Context) error {
	listTasksOutput, err := client.ecs.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:       client.cfg.ClusterName,
		ServiceName:   client.cfg.ServiceName,
		DesiredStatus: "RUNNING",
	})
	if err != nil {
		return fmt.Errorf("failed to list ECS tasks: %w", err)
	}

	_, err = client.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      client.cfg.ClusterName,
		Service:      client.cfg.ServiceName,
		DesiredCount: aws.Int32(int32(len(listTasksOutput.TaskArns)) + 1),
	})
	if err != nil {
		return fmt.Errorf("failed to update ECS desired count: %w", err)
	}
	return nil
}

func (client *Client) GetServerStatus(ip string, port int) (dtos.ServerStatusResponse, error) {
	req, err := http.NewRequest(
		http.MethodGet,
		fmt.Sprintf("http://%s:%d/status", ip, port),
		nil,
	)
	if err != nil {
		return dtos.ServerStatusResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return dtos.ServerStatusResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dtos.ServerStatusResponse{}, ErrUnknownServerStatus
	}
	var status dtos.ServerStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return dtos.ServerStatusResponse{}, fmt.Errorf("failed to decode body: %w", err)
	}
	return status, nil
}
