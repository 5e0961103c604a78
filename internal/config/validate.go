package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

var errEmptyToken = errors.New("bot.token is required")

// Validate checks the parts of a config that would otherwise only fail
// deep inside the app at startup or on the next backup run.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errEmptyToken
	}
	if _, err := c.Behavior.PatienceDuration(); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("database.busy_timeout", c.Database.BusyTimeout, 0); err != nil {
		return err
	}
	if c.Database.Backup.Enabled {
		if _, err := cron.ParseStandard(c.Database.Backup.ResolvedSchedule()); err != nil {
			return fmt.Errorf("database.backup.schedule: %w", err)
		}
	}
	return nil
}
