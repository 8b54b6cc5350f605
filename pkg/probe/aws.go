package probe

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const defaultAWSRegion = "us-east-1"

// newAWSProber verifies AWS credentials with STS GetCallerIdentity, which
// requires no IAM permissions and works for both long-lived and session keys.
func newAWSProber() Prober {
	return ProberFunc(func(ctx context.Context, fields map[string]string) error {
		region := fields["region"]
		if region == "" {
			region = defaultAWSRegion
		}

		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				fields["accessKeyId"],
				fields["secretAccessKey"],
				fields["sessionToken"],
			)),
		)
		if err != nil {
			return fmt.Errorf("failed to build AWS config: %w", err)
		}

		if _, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
			return fmt.Errorf("caller identity check failed: %w", err)
		}
		return nil
	})
}
