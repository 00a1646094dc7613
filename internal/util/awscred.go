// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"os"
	"strings"
)

// AWS IAM credential file paths (vault-injected in Kubernetes deployments)
const (
	DefaultAWSKeyFile    = "/vault/secrets/awscleanupkey"
	DefaultAWSSecretFile = "/vault/secrets/awscleanupsecret"
)

// LoadAWSCredentials makes vault-injected AWS credentials visible to the SDK.
// Priority:
// 1. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
// 2. AWS SDK default chain (profiles, SSO cache, IAM roles)
// 3. Vault files - fallback
//
// Environment variables are only set from vault files that exist, so the SDK
// default chain still applies when neither is present.
func LoadAWSCredentials() {
	loadAWSCredentialsFrom(DefaultAWSKeyFile, DefaultAWSSecretFile)
}

func loadAWSCredentialsFrom(keyFile, secretFile string) {
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		if content, err := os.ReadFile(keyFile); err == nil {
			_ = os.Setenv("AWS_ACCESS_KEY_ID", strings.TrimSpace(string(content)))
		}
	}

	if os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		if content, err := os.ReadFile(secretFile); err == nil {
			_ = os.Setenv("AWS_SECRET_ACCESS_KEY", strings.TrimSpace(string(content)))
		}
	}
}
