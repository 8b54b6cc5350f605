package broker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
)

const defaultAWSRegion = "us-east-1"

// awsIntegration resolves the caller identity for the stored keys and, when
// the connection names an automation endpoint, forwards the task there with
// the verified identity attached. The broker never runs raw AWS API calls on
// an agent's behalf.
type awsIntegration struct{}

func (awsIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	region := bundle.Fields["region"]
	if region == "" {
		region = defaultAWSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			bundle.Fields["accessKeyId"],
			bundle.Fields["secretAccessKey"],
			bundle.Fields["sessionToken"],
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("caller identity check failed: %w", err)
	}

	metadata := map[string]any{
		"account": aws.ToString(identity.Account),
		"arn":     aws.ToString(identity.Arn),
		"region":  region,
	}

	automationURL := bundle.Fields["automationUrl"]
	if automationURL == "" {
		out := fmt.Sprintf("verified AWS identity %s", aws.ToString(identity.Arn))
		return &InvocationResult{Output: out, Metadata: metadata}, nil
	}

	out, err := postJSON(ctx, automationURL, nil, map[string]any{
		"account": aws.ToString(identity.Account),
		"region":  region,
		"task":    inv.Input,
		"options": inv.Options,
	})
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Output: out, Metadata: metadata}, nil
}

// DefaultIntegrations wires the production integration per connection type.
func DefaultIntegrations() map[string]Integration {
	return map[string]Integration{
		catalog.TypeOpenRouter: openRouterIntegration{},
		catalog.TypeAnthropic:  anthropicIntegration{},
		catalog.TypeArcade:     arcadeIntegration{},
		catalog.TypeOpenOps:    openOpsIntegration{},
		catalog.TypeMCPJungle:  mcpJungleIntegration{},
		catalog.TypeFAL:        falIntegration{},
		catalog.TypeModelsLab:  modelsLabIntegration{},
		catalog.TypeAWS:        awsIntegration{},
	}
}
