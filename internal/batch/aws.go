package batch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// DescribeJobs accepts at most 100 identifiers per call.
const describeChunkSize = 100

// AWSClient implements API against AWS Batch.
type AWSClient struct {
	client *awsbatch.Client
}

// NewAWSClient creates a client from a resolved AWS config.
func NewAWSClient(cfg aws.Config) *AWSClient {
	return &AWSClient{client: awsbatch.NewFromConfig(cfg)}
}

func (c *AWSClient) RegisterJobDefinition(ctx context.Context, def *models.JobDefinition) (string, int32, error) {
	out, err := c.client.RegisterJobDefinition(ctx, &awsbatch.RegisterJobDefinitionInput{
		JobDefinitionName: aws.String(def.Name),
		Type:              types.JobDefinitionTypeContainer,
		ContainerProperties: &types.ContainerProperties{
			Image:       aws.String(def.Image),
			Vcpus:       aws.Int32(def.VCPUs),
			Memory:      aws.Int32(def.MemoryMiB),
			Environment: toKeyValuePairs(def.Environment),
			// The host container runs privileged; child containers it
			// spawns are never granted the flag.
			Privileged: aws.Bool(true),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("register job definition %q: %w", def.Name, err)
	}
	return aws.ToString(out.JobDefinitionArn), aws.ToInt32(out.Revision), nil
}

func (c *AWSClient) DeregisterJobDefinition(ctx context.Context, ref string) error {
	_, err := c.client.DeregisterJobDefinition(ctx, &awsbatch.DeregisterJobDefinitionInput{
		JobDefinition: aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("deregister job definition %q: %w", ref, err)
	}
	return nil
}

func (c *AWSClient) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	deps := make([]types.JobDependency, 0, len(req.DependsOn))
	for _, id := range req.DependsOn {
		deps = append(deps, types.JobDependency{JobId: aws.String(id)})
	}

	out, err := c.client.SubmitJob(ctx, &awsbatch.SubmitJobInput{
		JobName:       aws.String(req.Name),
		JobDefinition: aws.String(req.Definition),
		JobQueue:      aws.String(req.Queue),
		DependsOn:     deps,
		ContainerOverrides: &types.ContainerOverrides{
			Environment: toKeyValuePairs(req.Environment),
		},
	})
	if err != nil {
		return "", fmt.Errorf("submit job %q: %w", req.Name, err)
	}
	return aws.ToString(out.JobId), nil
}

func (c *AWSClient) DescribeJobs(ctx context.Context, ids []string) ([]JobSummary, error) {
	summaries := make([]JobSummary, 0, len(ids))
	for start := 0; start < len(ids); start += describeChunkSize {
		end := start + describeChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		out, err := c.client.DescribeJobs(ctx, &awsbatch.DescribeJobsInput{
			Jobs: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("describe jobs: %w", err)
		}
		for _, j := range out.Jobs {
			summaries = append(summaries, JobSummary{
				ID:     aws.ToString(j.JobId),
				Status: string(j.Status),
			})
		}
	}
	return summaries, nil
}

func toKeyValuePairs(env []models.EnvVar) []types.KeyValuePair {
	pairs := make([]types.KeyValuePair, 0, len(env))
	for _, e := range env {
		pairs = append(pairs, types.KeyValuePair{
			Name:  aws.String(e.Name),
			Value: aws.String(e.Value),
		})
	}
	return pairs
}
