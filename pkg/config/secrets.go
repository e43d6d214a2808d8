package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const secretsManagerPrefix = "arn:aws:secretsmanager:"

// SecretGetter is the subset of the Secrets Manager client used to resolve API keys
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// IsSecretARN reports whether key refers to a Secrets Manager secret
func IsSecretARN(key string) bool {
	return strings.HasPrefix(key, secretsManagerPrefix)
}

// ResolveAPIKey returns the API key, fetching it from AWS Secrets Manager when
// it is given as a secret ARN. Plain keys are returned unchanged.
func ResolveAPIKey(ctx context.Context, cfg *Config) (string, error) {
	if !IsSecretARN(cfg.APIKey) {
		return cfg.APIKey, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("unable to load AWS config: %w", err)
	}

	return resolveSecret(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.APIKey)
}

func resolveSecret(ctx context.Context, getter SecretGetter, arn string) (string, error) {
	secret, err := getter.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from Secrets Manager: %w", err)
	}
	if secret.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}
	return *secret.SecretString, nil
}
