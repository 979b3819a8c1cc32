package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/erimias46/babrber-frontend-sub000/internal/config"
)

// LoadAWSConfig centralizes AWS SDK initialization so SQS forwarding and SES
// email share the same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	return config.LoadDefaultConfig(ctx, loaders...)
}

// SQSClient builds a client, pointing at the endpoint override when one is set.
func SQSClient(awsCfg aws.Config, cfg *appconfig.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// SESClient builds an SES v2 client, honouring the endpoint override.
func SESClient(awsCfg aws.Config, cfg *appconfig.Config) *sesv2.Client {
	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}
