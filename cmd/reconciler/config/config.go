// Package config assembles the service components from CLI settings.
package config

import (
	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/store"
	rerrors "invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

// MatchingProfile names a preset matcher configuration.
type MatchingProfile string

const (
	ProfileDefault MatchingProfile = "default"
	ProfileStrict  MatchingProfile = "strict"
	ProfileRelaxed MatchingProfile = "relaxed"
)

// CreateMatcherConfig builds a matcher configuration from a profile
// name and optional overrides. A zero dateWindow keeps the profile's
// value.
func CreateMatcherConfig(profile string, dateWindow int) (*matcher.Config, error) {
	var config *matcher.Config
	switch MatchingProfile(profile) {
	case ProfileDefault, "":
		config = matcher.DefaultConfig()
	case ProfileStrict:
		config = matcher.StrictConfig()
	case ProfileRelaxed:
		config = matcher.RelaxedConfig()
	default:
		return nil, rerrors.ConfigurationError("profile", profile)
	}

	if dateWindow > 0 {
		config.DateWindowDays = dateWindow
	}
	if err := config.Validate(); err != nil {
		return nil, rerrors.ConfigurationError("date-window", err.Error())
	}
	return config, nil
}

// CreateService opens the store at dbPath and wires the full
// reconciliation service. The caller closes the returned store.
func CreateService(dbPath string, matcherConfig *matcher.Config, log logger.Logger) (*reconciler.Service, *store.SQLiteStore, error) {
	if dbPath == "" {
		return nil, nil, rerrors.ConfigurationError("db",
			"database path is required (--db or RECONCILER_DB)")
	}

	st, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, err
	}

	svc, err := reconciler.NewService(st, st, matcherConfig, log)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return svc, st, nil
}

// CreateLogger builds the process logger from CLI settings.
func CreateLogger(verbose bool, format string) (logger.Logger, error) {
	level := logger.InfoLevel
	if verbose {
		level = logger.DebugLevel
	}
	logFormat := logger.TextFormat
	if format == "json" {
		logFormat = logger.JSONFormat
	}
	log, err := logger.NewLogger(&logger.Config{Level: level, Format: logFormat})
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)
	return log, nil
}
