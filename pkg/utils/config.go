// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges the named config file into viper and enables
// environment overrides (upload.bucket_prefix -> UPLOAD_BUCKET_PREFIX).
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.zapupload")
	viper.AddConfigPath("/etc/zapupload/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				logger.Fatal().Msgf("Config file not found: %s", configFileName)
			}
			logger.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}

		if required {
			logger.Fatal().Err(err).Msgf("Failed to load required config file: %s", configFileName)
		}
		logger.Warn().Err(err).Msgf("Failed to load config file: %s", configFileName)
		return false
	}
	logger.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true
}

// VaultConfig points at a KV secret whose keys overlay viper settings.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	// SecretPath is the logical read path, e.g. "secret/data/upload".
	SecretPath string
}

// LoadVaultSecrets reads a KV secret from Vault and sets each key in viper.
// KV v2 responses nest the values under "data"; both layouts are accepted.
// It returns the number of keys applied.
func LoadVaultSecrets(ctx context.Context, cfg VaultConfig) (int, error) {
	if cfg.SecretPath == "" {
		return 0, errors.New("vault secret path is required")
	}

	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return 0, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	secret, err := client.Logical().ReadWithContext(ctx, cfg.SecretPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read vault secret %s: %w", cfg.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return 0, fmt.Errorf("vault secret %s not found", cfg.SecretPath)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	for k, v := range data {
		viper.Set(strings.ToLower(k), v)
	}

	logger.Info().
		Str("path", cfg.SecretPath).
		Int("keys", len(data)).
		Msg("Loaded configuration from vault")
	return len(data), nil
}
