// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/netSkope/destlist-cleanup/internal/config"
	"go.uber.org/zap/zaptest"
)

type mockSecrets struct {
	secrets map[string]string
	err     error
	calls   []string
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	name := aws.ToString(params.SecretId)
	m.calls = append(m.calls, name)
	if m.err != nil {
		return nil, m.err
	}
	val, ok := m.secrets[name]
	if !ok {
		return &secretsmanager.GetSecretValueOutput{}, nil
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(val)}, nil
}

func TestGetSecretFields(t *testing.T) {
	svc := &mockSecrets{secrets: map[string]string{
		"ok":      `{"client_id": "abc", "client_secret": "xyz"}`,
		"invalid": `not json`,
	}}

	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid", "ok", false},
		{"invalid json", "invalid", true},
		{"empty secret string", "missing", true},
		{"no name", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := GetSecretFields(context.Background(), svc, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecretFields() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && fields["client_id"] != "abc" {
				t.Errorf("client_id = %q, want abc", fields["client_id"])
			}
		})
	}
}

func TestResolveCredentials(t *testing.T) {
	svc := &mockSecrets{secrets: map[string]string{
		"umbrella/api": `{"client_id": "u-id", "client_secret": "u-secret"}`,
		"defender/api": `{"tenant_id": "t", "client_id": "d-id", "client_secret": "d-secret"}`,
	}}
	cfg := &config.Config{
		UmbrellaSecretName: "umbrella/api",
		DefenderSecretName: "defender/api",
		DefenderClientID:   "explicit",
	}

	if !NeedsSecrets(cfg) {
		t.Fatal("NeedsSecrets() = false, want true")
	}
	if err := ResolveCredentials(context.Background(), cfg, svc, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}

	if cfg.UmbrellaClientID != "u-id" || cfg.UmbrellaClientSecret != "u-secret" {
		t.Errorf("Umbrella credentials not resolved: %q/%q", cfg.UmbrellaClientID, cfg.UmbrellaClientSecret)
	}
	if cfg.DefenderTenantID != "t" || cfg.DefenderClientSecret != "d-secret" {
		t.Errorf("Defender credentials not resolved: %q/%q", cfg.DefenderTenantID, cfg.DefenderClientSecret)
	}
	if cfg.DefenderClientID != "explicit" {
		t.Errorf("DefenderClientID = %q, explicit value should be kept", cfg.DefenderClientID)
	}
	if NeedsSecrets(cfg) {
		t.Error("NeedsSecrets() = true after resolution")
	}
}

func TestResolveCredentials_SkipsWhenSet(t *testing.T) {
	svc := &mockSecrets{}
	cfg := &config.Config{
		UmbrellaSecretName:   "umbrella/api",
		UmbrellaClientID:     "id",
		UmbrellaClientSecret: "secret",
	}
	if err := ResolveCredentials(context.Background(), cfg, svc, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}
	if len(svc.calls) != 0 {
		t.Errorf("expected no Secrets Manager calls, got %v", svc.calls)
	}
}

func TestResolveCredentials_Error(t *testing.T) {
	svc := &mockSecrets{err: errors.New("AccessDeniedException")}
	cfg := &config.Config{UmbrellaSecretName: "umbrella/api"}
	if err := ResolveCredentials(context.Background(), cfg, svc, zaptest.NewLogger(t)); err == nil {
		t.Error("ResolveCredentials() expected error")
	}
}

func TestLoadAWSCredentialsFromVaultFiles(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	secretFile := filepath.Join(dir, "secret")
	if err := os.WriteFile(keyFile, []byte("AKIAEXAMPLE\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(secretFile, []byte("  s3cr3t  "), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	loadAWSCredentialsFrom(keyFile, secretFile)

	if got := os.Getenv("AWS_ACCESS_KEY_ID"); got != "AKIAEXAMPLE" {
		t.Errorf("AWS_ACCESS_KEY_ID = %q", got)
	}
	if got := os.Getenv("AWS_SECRET_ACCESS_KEY"); got != "s3cr3t" {
		t.Errorf("AWS_SECRET_ACCESS_KEY = %q", got)
	}
}

func TestLoadAWSCredentialsKeepsEnvironment(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("FROMFILE"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "FROMENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
	loadAWSCredentialsFrom(keyFile, filepath.Join(dir, "missing"))

	if got := os.Getenv("AWS_ACCESS_KEY_ID"); got != "FROMENV" {
		t.Errorf("AWS_ACCESS_KEY_ID = %q, want FROMENV", got)
	}
}
