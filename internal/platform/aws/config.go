package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config holds AWS configuration
type Config struct {
	Region string
	// Endpoint overrides the service endpoint (LocalStack). Empty uses AWS.
	Endpoint string
}

// LoadAWSConfig loads AWS SDK configuration using default credential chain
// (environment variables, shared credentials file, IAM roles, etc.)
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}
