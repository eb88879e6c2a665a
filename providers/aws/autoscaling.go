package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/provider"
)

type autoScalingGroupConfig struct {
	Name             string   `json:"name"`
	MinSize          int      `json:"min_size"`
	MaxSize          int      `json:"max_size"`
	DesiredCapacity  *int     `json:"desired_capacity"`
	LaunchTemplateID string   `json:"launch_template_id"`
	VPCZoneIDs       []string `json:"vpc_zone_identifier"`
	TargetGroupARNs  []string `json:"target_group_arns"`
}

func (p *Provider) applyAutoScalingGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired autoScalingGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(desired.Name),
		MinSize:              aws.Int32(int32(desired.MinSize)),
		MaxSize:              aws.Int32(int32(desired.MaxSize)),
	}
	if desired.DesiredCapacity != nil {
		input.DesiredCapacity = aws.Int32(int32(*desired.DesiredCapacity))
	}
	if desired.LaunchTemplateID != "" {
		input.LaunchTemplate = &types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(desired.LaunchTemplateID),
			Version:          aws.String("$Latest"),
		}
	}
	if len(desired.VPCZoneIDs) > 0 {
		input.VPCZoneIdentifier = aws.String(strings.Join(desired.VPCZoneIDs, ","))
	}
	if len(desired.TargetGroupARNs) > 0 {
		input.TargetGroupARNs = desired.TargetGroupARNs
	}

	// Upsert: try create, fall back to update when the group already exists.
	_, err := p.autoscalingClient.CreateAutoScalingGroup(ctx, input)
	if err != nil {
		var ae smithy.APIError
		if !errors.As(err, &ae) || ae.ErrorCode() != "AlreadyExists" {
			return nil, fmt.Errorf("failed to create auto scaling group: %w", err)
		}
		_, err = p.autoscalingClient.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: input.AutoScalingGroupName,
			MinSize:              input.MinSize,
			MaxSize:              input.MaxSize,
			DesiredCapacity:      input.DesiredCapacity,
			VPCZoneIdentifier:    input.VPCZoneIdentifier,
			LaunchTemplate:       input.LaunchTemplate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update auto scaling group: %w", err)
		}
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id": desired.Name,
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteAutoScalingGroup(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.autoscalingClient.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(req.ID),
		ForceDelete:          aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete auto scaling group %s: %w", req.ID, err)
	}
	return nil
}
