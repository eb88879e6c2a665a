package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/terrane-io/terrane/internal/provider"
)

type loadBalancerConfig struct {
	Name             string   `json:"name"`
	Type             string   `json:"load_balancer_type"`
	Internal         bool     `json:"internal"`
	Subnets          []string `json:"subnets"`
	SecurityGroupIDs []string `json:"security_groups"`
}

func (p *Provider) applyLoadBalancer(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired loadBalancerConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	lbType := types.LoadBalancerTypeEnumApplication
	if desired.Type != "" {
		lbType = types.LoadBalancerTypeEnum(desired.Type)
	}
	scheme := types.LoadBalancerSchemeEnumInternetFacing
	if desired.Internal {
		scheme = types.LoadBalancerSchemeEnumInternal
	}

	// CreateLoadBalancer is idempotent for an identical configuration; it
	// returns the existing balancer rather than erroring.
	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(desired.Name),
		Type:           lbType,
		Scheme:         scheme,
		Subnets:        desired.Subnets,
		SecurityGroups: desired.SecurityGroupIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, fmt.Errorf("create load balancer returned no balancer")
	}
	lb := resp.LoadBalancers[0]

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":       aws.ToString(lb.LoadBalancerArn),
		"arn":      aws.ToString(lb.LoadBalancerArn),
		"dns_name": aws.ToString(lb.DNSName),
		"zone_id":  aws.ToString(lb.CanonicalHostedZoneId),
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete load balancer %s: %w", req.ID, err)
	}
	return nil
}

type targetGroupConfig struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	VpcID      string `json:"vpc_id"`
	TargetType string `json:"target_type"`
	HealthPath string `json:"health_check_path"`
}

func (p *Provider) applyTargetGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired targetGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &elbv2.CreateTargetGroupInput{
		Name:     aws.String(desired.Name),
		Port:     aws.Int32(int32(desired.Port)),
		Protocol: types.ProtocolEnum(desired.Protocol),
		VpcId:    aws.String(desired.VpcID),
	}
	if desired.TargetType != "" {
		input.TargetType = types.TargetTypeEnum(desired.TargetType)
	}
	if desired.HealthPath != "" {
		input.HealthCheckPath = aws.String(desired.HealthPath)
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create target group: %w", err)
	}
	if len(resp.TargetGroups) == 0 {
		return nil, fmt.Errorf("create target group returned no group")
	}
	tg := resp.TargetGroups[0]

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":  aws.ToString(tg.TargetGroupArn),
		"arn": aws.ToString(tg.TargetGroupArn),
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete target group %s: %w", req.ID, err)
	}
	return nil
}

type listenerConfig struct {
	LoadBalancerARN string `json:"load_balancer_arn"`
	Port            int    `json:"port"`
	Protocol        string `json:"protocol"`
	TargetGroupARN  string `json:"target_group_arn"`
}

func (p *Provider) applyListener(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired listenerConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	action := types.Action{
		Type:           types.ActionTypeEnumForward,
		TargetGroupArn: aws.String(desired.TargetGroupARN),
	}

	var listenerARN string
	if len(req.PriorJSON) > 0 {
		var prior struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil {
			listenerARN = prior.ID
		}
	}

	if listenerARN == "" {
		resp, err := p.elbv2Client.CreateListener(ctx, &elbv2.CreateListenerInput{
			LoadBalancerArn: aws.String(desired.LoadBalancerARN),
			Port:            aws.Int32(int32(desired.Port)),
			Protocol:        types.ProtocolEnum(desired.Protocol),
			DefaultActions:  []types.Action{action},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create listener: %w", err)
		}
		if len(resp.Listeners) == 0 {
			return nil, fmt.Errorf("create listener returned no listener")
		}
		listenerARN = aws.ToString(resp.Listeners[0].ListenerArn)
	} else {
		_, err := p.elbv2Client.ModifyListener(ctx, &elbv2.ModifyListenerInput{
			ListenerArn:    aws.String(listenerARN),
			Port:           aws.Int32(int32(desired.Port)),
			Protocol:       types.ProtocolEnum(desired.Protocol),
			DefaultActions: []types.Action{action},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to modify listener: %w", err)
		}
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":  listenerARN,
		"arn": listenerARN,
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteListener(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.elbv2Client.DeleteListener(ctx, &elbv2.DeleteListenerInput{
		ListenerArn: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete listener %s: %w", req.ID, err)
	}
	return nil
}
