// Package config loads client configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/utils"
)

// Load loads configuration from environment variables and .env files
func Load() (*models.Config, error) {
	_ = godotenv.Load()

	cfg := &models.Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &models.AppError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("failed to parse environment variables: %w", err),
		}
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, &models.AppError{
			Type: models.ErrInvalidConfig,
			Err:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills directories that depend on the user's home
func applyDefaults(cfg *models.Config) {
	homeDir, _ := os.UserHomeDir()
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(homeDir, ".local", "share", "appstore")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(homeDir, ".cache", "appstore")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
}

// Validate validates the configuration using struct tags
func Validate(cfg *models.Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.MetadataTimeout < time.Second {
		return fmt.Errorf("metadata timeout must be at least 1s")
	}
	if cfg.DownloadTimeout < time.Second {
		return fmt.Errorf("download timeout must be at least 1s")
	}
	if cfg.EventPollInterval < 100*time.Millisecond {
		return fmt.Errorf("event poll interval must be at least 100ms")
	}
	if cfg.DataDir == "" || cfg.CacheDir == "" {
		return fmt.Errorf("data and cache directories cannot be empty")
	}

	return nil
}

// EnsureDirectories creates the data and cache directories
func EnsureDirectories(cfg *models.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.CacheDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	}
	return nil
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var messages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", e.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
		}
	}
	return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
}
