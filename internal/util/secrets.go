// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/netSkope/destlist-cleanup/internal/config"
	"go.uber.org/zap"
)

// Secret JSON keys.
const (
	SecretKeyTenantID     = "tenant_id"
	SecretKeyClientID     = "client_id"
	SecretKeyClientSecret = "client_secret"
)

// SecretGetter is the subset of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsClient creates a Secrets Manager client for region.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required for Secrets Manager")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("create AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// GetSecretFields retrieves a JSON object secret and returns its string
// fields.
func GetSecretFields(ctx context.Context, svc SecretGetter, secretName string) (map[string]string, error) {
	if secretName == "" {
		return nil, fmt.Errorf("secret name is required for Secrets Manager")
	}

	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret string empty for %s", secretName)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return nil, fmt.Errorf("parse secret json: %w", err)
	}
	return fields, nil
}

// ResolveCredentials fills credentials that are still empty in cfg from the
// configured Secrets Manager secrets. Values already set by flags,
// environment or config file are kept.
func ResolveCredentials(ctx context.Context, cfg *config.Config, svc SecretGetter, logger *zap.Logger) error {
	if cfg.UmbrellaSecretName != "" && (cfg.UmbrellaClientID == "" || cfg.UmbrellaClientSecret == "") {
		fields, err := GetSecretFields(ctx, svc, cfg.UmbrellaSecretName)
		if err != nil {
			return fmt.Errorf("failed to resolve Umbrella credentials: %w", err)
		}
		fill(&cfg.UmbrellaClientID, fields[SecretKeyClientID])
		fill(&cfg.UmbrellaClientSecret, fields[SecretKeyClientSecret])
		logger.Info("Resolved Umbrella credentials from Secrets Manager",
			zap.String("secret", cfg.UmbrellaSecretName))
	}

	if cfg.DefenderSecretName != "" && (cfg.DefenderTenantID == "" || cfg.DefenderClientID == "" || cfg.DefenderClientSecret == "") {
		fields, err := GetSecretFields(ctx, svc, cfg.DefenderSecretName)
		if err != nil {
			return fmt.Errorf("failed to resolve Defender credentials: %w", err)
		}
		fill(&cfg.DefenderTenantID, fields[SecretKeyTenantID])
		fill(&cfg.DefenderClientID, fields[SecretKeyClientID])
		fill(&cfg.DefenderClientSecret, fields[SecretKeyClientSecret])
		logger.Info("Resolved Defender credentials from Secrets Manager",
			zap.String("secret", cfg.DefenderSecretName))
	}

	return nil
}

// NeedsSecrets reports whether ResolveCredentials would call Secrets Manager.
func NeedsSecrets(cfg *config.Config) bool {
	return (cfg.UmbrellaSecretName != "" && (cfg.UmbrellaClientID == "" || cfg.UmbrellaClientSecret == "")) ||
		(cfg.DefenderSecretName != "" && (cfg.DefenderTenantID == "" || cfg.DefenderClientID == "" || cfg.DefenderClientSecret == ""))
}

func fill(dst *string, val string) {
	if *dst == "" {
		*dst = val
	}
}
