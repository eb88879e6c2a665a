package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrane-io/terrane/internal/provider"
)

type securityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []securityGroupRule `json:"ingress"`
	Egress      []securityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

type securityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired securityGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var groupID string
	if len(req.PriorJSON) > 0 {
		var prior struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil {
			groupID = prior.ID
		}
	}

	if groupID == "" {
		input := &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(desired.Name),
			Description: aws.String(desired.Description),
		}
		if desired.VpcID != "" {
			input.VpcId = aws.String(desired.VpcID)
		}
		if len(desired.Tags) > 0 {
			input.TagSpecifications = []types.TagSpecification{{
				ResourceType: types.ResourceTypeSecurityGroup,
				Tags:         ec2Tags(desired.Tags),
			}}
		}
		resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to create security group: %w", err)
		}
		groupID = aws.ToString(resp.GroupId)
	} else {
		// Rule updates are reconciled wholesale: drop what exists, authorize
		// what is declared.
		if err := p.revokeAllRules(ctx, groupID); err != nil {
			return nil, err
		}
	}

	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: ipPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress rules: %w", err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: ipPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress rules: %w", err)
		}
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":  groupID,
		"arn": fmt.Sprintf("arn:aws:ec2:%s::security-group/%s", p.region, groupID),
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) revokeAllRules(ctx context.Context, groupID string) error {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		return fmt.Errorf("failed to describe security group %s: %w", groupID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil
	}
	group := resp.SecurityGroups[0]

	if len(group.IpPermissions) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: group.IpPermissions,
		})
		if err != nil {
			return fmt.Errorf("failed to revoke ingress rules: %w", err)
		}
	}
	if len(group.IpPermissionsEgress) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: group.IpPermissionsEgress,
		})
		if err != nil {
			return fmt.Errorf("failed to revoke egress rules: %w", err)
		}
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{req.ID},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe security group %s: %w", req.ID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete security group %s: %w", req.ID, err)
	}
	return nil
}

func ipPermissions(rules []securityGroupRule) []types.IpPermission {
	perms := make([]types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		perm := types.IpPermission{
			FromPort:   aws.Int32(int32(rule.FromPort)),
			ToPort:     aws.Int32(int32(rule.ToPort)),
			IpProtocol: aws.String(rule.Protocol),
		}
		for _, cidr := range rule.CidrBlocks {
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

func ec2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

type launchTemplateConfig struct {
	Name             string   `json:"name"`
	ImageID          string   `json:"image_id"`
	InstanceType     string   `json:"instance_type"`
	KeyName          string   `json:"key_name"`
	SecurityGroupIDs []string `json:"security_group_ids"`
	UserData         string   `json:"user_data"`
}

func (p *Provider) applyLaunchTemplate(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired launchTemplateConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	data := &types.RequestLaunchTemplateData{
		ImageId:      aws.String(desired.ImageID),
		InstanceType: types.InstanceType(desired.InstanceType),
	}
	if desired.KeyName != "" {
		data.KeyName = aws.String(desired.KeyName)
	}
	if len(desired.SecurityGroupIDs) > 0 {
		data.SecurityGroupIds = desired.SecurityGroupIDs
	}
	if desired.UserData != "" {
		data.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(desired.UserData)))
	}

	var templateID string
	var latestVersion int64

	if len(req.PriorJSON) > 0 {
		var prior struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil {
			templateID = prior.ID
		}
	}

	if templateID == "" {
		resp, err := p.ec2Client.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
			LaunchTemplateName: aws.String(desired.Name),
			LaunchTemplateData: data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create launch template: %w", err)
		}
		templateID = aws.ToString(resp.LaunchTemplate.LaunchTemplateId)
		latestVersion = aws.ToInt64(resp.LaunchTemplate.LatestVersionNumber)
	} else {
		// Updates land as a new version promoted to default.
		resp, err := p.ec2Client.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
			LaunchTemplateId:   aws.String(templateID),
			LaunchTemplateData: data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create launch template version: %w", err)
		}
		latestVersion = aws.ToInt64(resp.LaunchTemplateVersion.VersionNumber)
		_, err = p.ec2Client.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
			LaunchTemplateId: aws.String(templateID),
			DefaultVersion:   aws.String(fmt.Sprintf("%d", latestVersion)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to promote launch template version: %w", err)
		}
	}

	newState, err := stateJSON(req.DesiredJSON, map[string]any{
		"id":             templateID,
		"latest_version": latestVersion,
	})
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: newState}, nil
}

func (p *Provider) deleteLaunchTemplate(ctx context.Context, req *provider.DeleteRequest) error {
	if req.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateId: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete launch template %s: %w", req.ID, err)
	}
	return nil
}
