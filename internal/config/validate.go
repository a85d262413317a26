package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessExpiry <= 0 {
		errs = append(errs, "JWT_ACCESS_EXPIRY must be positive")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Quota
	if c.Quota.DefaultBWLimit < 0 {
		errs = append(errs, "QUOTA_DEFAULT_BW_LIMIT must be >= 0")
	}
	if c.Quota.DefaultColorLimit < 0 {
		errs = append(errs, "QUOTA_DEFAULT_COLOR_LIMIT must be >= 0")
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold > 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_WARNING_THRESHOLD must be in (0, 1], got %g", c.Quota.WarningThreshold))
	}
	if c.Quota.MinTopup < 0 {
		errs = append(errs, "QUOTA_MIN_TOPUP must be >= 0")
	}
	if c.Quota.LockTimeout <= 0 {
		errs = append(errs, "QUOTA_LOCK_TIMEOUT must be positive")
	}

	// Agent capacity
	if c.Agents.CapDefault < 1 {
		errs = append(errs, "AGENTS_CAP_DEFAULT must be >= 1")
	}
	if c.Agents.CapMax < c.Agents.CapDefault {
		errs = append(errs, fmt.Sprintf("AGENTS_CAP_MAX (%d) must be >= AGENTS_CAP_DEFAULT (%d)", c.Agents.CapMax, c.Agents.CapDefault))
	}

	if c.Imports.MaxRows < 1 {
		errs = append(errs, "IMPORTS_MAX_ROWS must be >= 1")
	}

	if c.Notify.RetentionDays < 1 {
		errs = append(errs, "NOTIFICATIONS_RETENTION_DAYS must be >= 1")
	}
	if _, err := cron.ParseStandard(c.Notify.SweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("NOTIFICATIONS_SWEEP_SCHEDULE is invalid: %v", err))
	}

	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		errs = append(errs, "ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	} else if c.Admin.Password != "" && len(c.Admin.Password) < 8 {
		errs = append(errs, "ADMIN_PASSWORD must be at least 8 characters")
	}

	// NATS: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, audit and notification events will only be logged")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
