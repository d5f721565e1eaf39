package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Database    DatabaseConfig    `json:"database"`
	Tickets     TicketsConfig     `json:"tickets"`
	AutoClose   AutoCloseConfig   `json:"auto_close"`
	Status      StatusConfig      `json:"status"`
	Events      EventsConfig      `json:"events"`
	Permissions PermissionsConfig `json:"permissions"`
	Lang        LangConfig        `json:"lang"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
}

type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	MongoDB MongoDBConfig `json:"mongodb"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// TicketsConfig holds bot-level defaults applied to a guild configuration
// when the setup command first creates it. Per-guild values live in the
// store afterwards.
type TicketsConfig struct {
	MaxOpenPerUser     int    `json:"max_open_per_user"`
	AllowReopen        *bool  `json:"allow_reopen"`
	NamingTemplate     string `json:"naming_template"`
	DeleteGraceSeconds int    `json:"delete_grace_seconds"`
}

type AutoCloseConfig struct {
	SweepIntervalMinutes    int `json:"sweep_interval_minutes"`
	GraceMinutes            int `json:"grace_minutes"`
	DefaultInactivityHours  int `json:"default_inactivity_hours"`
	PurgeDeletedAfterDays   int `json:"purge_deleted_after_days"`
	RecentMessageFetchLimit int `json:"recent_message_fetch_limit"`
}

type StatusConfig struct {
	RefreshSeconds int `json:"refresh_seconds"`
	RotateSeconds  int `json:"rotate_seconds"`
}

type EventsConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

type PermissionsConfig struct {
	AdminRoles []string `json:"admin_roles"`
}

type LangConfig struct {
	Path string `json:"path"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills every optional field exactly once at load time so the
// rest of the code never has to re-check for missing sub-objects.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/tickets.db"
	}
	if cfg.Tickets.MaxOpenPerUser <= 0 {
		cfg.Tickets.MaxOpenPerUser = 1
	}
	if cfg.Tickets.AllowReopen == nil {
		t := true
		cfg.Tickets.AllowReopen = &t
	}
	if cfg.Tickets.NamingTemplate == "" {
		cfg.Tickets.NamingTemplate = "ticket-%04d"
	}
	if cfg.Tickets.DeleteGraceSeconds <= 0 {
		cfg.Tickets.DeleteGraceSeconds = 5
	}
	if cfg.AutoClose.SweepIntervalMinutes <= 0 {
		cfg.AutoClose.SweepIntervalMinutes = 60
	}
	if cfg.AutoClose.GraceMinutes <= 0 {
		cfg.AutoClose.GraceMinutes = 60
	}
	if cfg.AutoClose.DefaultInactivityHours <= 0 {
		cfg.AutoClose.DefaultInactivityHours = 72
	}
	if cfg.AutoClose.PurgeDeletedAfterDays <= 0 {
		cfg.AutoClose.PurgeDeletedAfterDays = 30
	}
	if cfg.AutoClose.RecentMessageFetchLimit <= 0 {
		cfg.AutoClose.RecentMessageFetchLimit = 50
	}
	if cfg.Status.RefreshSeconds <= 0 {
		cfg.Status.RefreshSeconds = 195
	}
	if cfg.Status.RotateSeconds <= 0 {
		cfg.Status.RotateSeconds = 28
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "ticket.events"
	}
	if cfg.Lang.Path == "" {
		cfg.Lang.Path = "lang.yaml"
	}
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
