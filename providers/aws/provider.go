// Package aws implements the aws provider against aws-sdk-go-v2. Supported
// types: aws_security_group, aws_launch_template, aws_autoscaling_group,
// aws_lb, aws_lb_target_group, aws_lb_listener, aws_s3_bucket,
// aws_dynamodb_table.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/provider"
)

type Provider struct {
	region  string
	profile string

	ec2Client         *ec2.Client
	autoscalingClient *autoscaling.Client
	elbv2Client       *elasticloadbalancingv2.Client
	s3Client          *s3.Client
	dynamodbClient    *dynamodb.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	p.region = settings["region"]
	if p.region == "" {
		p.region = "us-east-1"
	}
	p.profile = settings["profile"]
	return p.ensureClients(ctx)
}

func (p *Provider) ensureClients(ctx context.Context) error {
	if p.ec2Client != nil {
		return nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(p.region)}
	if p.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(p.profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.autoscalingClient = autoscaling.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.s3Client = s3.NewFromConfig(cfg)
	p.dynamodbClient = dynamodb.NewFromConfig(cfg)
	return nil
}

// immutableFields lists the attributes per type that cannot change in place.
// Any diff touching one of these forces replacement.
var immutableFields = map[string][]string{
	"aws_security_group":    {"name", "vpc_id"},
	"aws_launch_template":   {"name"},
	"aws_autoscaling_group": {"name"},
	"aws_lb":                {"name", "load_balancer_type", "internal"},
	"aws_lb_target_group":   {"name", "port", "protocol", "vpc_id", "target_type"},
	"aws_lb_listener":       {"load_balancer_arn"},
	"aws_s3_bucket":         {"bucket"},
	"aws_dynamodb_table":    {"name", "hash_key", "range_key", "attribute"},
}

// Plan diffs the desired attributes against the recorded ones. Attributes
// the platform computes (id, arn) never appear in desired config, so only
// declared attributes participate.
func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if _, ok := immutableFields[req.Type]; !ok {
		return nil, fmt.Errorf("unsupported resource type: %s", req.Type)
	}
	if len(req.PriorJSON) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	var changed []string
	for k, dv := range desired {
		pv, ok := prior[k]
		if !ok || !reflect.DeepEqual(dv, pv) {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		return &provider.PlanResponse{Action: provider.ActionNoOp}, nil
	}

	imm := make(map[string]bool)
	for _, f := range immutableFields[req.Type] {
		imm[f] = true
	}
	var requiresReplace []string
	for _, attr := range changed {
		if imm[attr] {
			requiresReplace = append(requiresReplace, attr)
		}
	}

	action := provider.ActionUpdate
	if len(requiresReplace) > 0 {
		action = provider.ActionReplace
	}
	return &provider.PlanResponse{
		Action:            action,
		ChangedAttributes: changed,
		RequiresReplace:   requiresReplace,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws_security_group":
		return p.applySecurityGroup(ctx, req)
	case "aws_launch_template":
		return p.applyLaunchTemplate(ctx, req)
	case "aws_autoscaling_group":
		return p.applyAutoScalingGroup(ctx, req)
	case "aws_lb":
		return p.applyLoadBalancer(ctx, req)
	case "aws_lb_target_group":
		return p.applyTargetGroup(ctx, req)
	case "aws_lb_listener":
		return p.applyListener(ctx, req)
	case "aws_s3_bucket":
		return p.applyBucket(ctx, req)
	case "aws_dynamodb_table":
		return p.applyTable(ctx, req)
	}
	return nil, fmt.Errorf("unsupported resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws_security_group":
		return p.readSecurityGroup(ctx, req)
	case "aws_s3_bucket":
		return p.readBucket(ctx, req)
	}
	// Remaining types refresh lazily through Plan diffs; report state as-is.
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	if err := p.ensureClients(ctx); err != nil {
		return err
	}

	switch req.Type {
	case "aws_security_group":
		return p.deleteSecurityGroup(ctx, req)
	case "aws_launch_template":
		return p.deleteLaunchTemplate(ctx, req)
	case "aws_autoscaling_group":
		return p.deleteAutoScalingGroup(ctx, req)
	case "aws_lb":
		return p.deleteLoadBalancer(ctx, req)
	case "aws_lb_target_group":
		return p.deleteTargetGroup(ctx, req)
	case "aws_lb_listener":
		return p.deleteListener(ctx, req)
	case "aws_s3_bucket":
		return p.deleteBucket(ctx, req)
	case "aws_dynamodb_table":
		return p.deleteTable(ctx, req)
	}
	return fmt.Errorf("unsupported resource type: %s", req.Type)
}

// stateJSON merges the declared attributes with the platform-computed ones
// into the recorded outputs, so Plan can diff attribute by attribute later.
func stateJSON(desiredJSON []byte, computed map[string]any) ([]byte, error) {
	out := make(map[string]any)
	if len(desiredJSON) > 0 {
		if err := json.Unmarshal(desiredJSON, &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
	}
	for k, v := range computed {
		out[k] = v
	}
	return json.Marshal(out)
}

// isNotFound reports whether the platform says the object is already gone.
func isNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		if strings.Contains(code, "NotFound") || strings.Contains(code, "NoSuch") ||
			code == "ResourceNotFoundException" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
