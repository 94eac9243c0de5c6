package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"~/.local/state/ssh-mcp"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Session limits
	MaxSessions    int           `envconfig:"MAX_SESSIONS" default:"10"`
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"30s"`
	ReapSchedule   string        `envconfig:"REAP_SCHEDULE" default:"@every 1m"`

	// Audit trail
	AuditEnabled       bool   `envconfig:"AUDIT_ENABLED" default:"true"`
	DatabasePath       string `envconfig:"DATABASE_PATH" default:""`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@daily"`

	// SSH client
	HostsFile             string        `envconfig:"HOSTS_FILE" default:"~/.ssh/mcp-hosts.yaml"`
	KnownHostsFile        string        `envconfig:"KNOWN_HOSTS" default:"~/.ssh/known_hosts"`
	IdentityFiles         []string      `envconfig:"IDENTITY_FILES" default:""`
	DefaultUser           string        `envconfig:"DEFAULT_USER" default:""`
	ConnectTimeout        time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	KeepaliveInterval     time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	InsecureIgnoreHostKey bool          `envconfig:"INSECURE_IGNORE_HOST_KEY" default:"false"`
}

var Cfg Settings

func Load() {
	s, err := Process()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}

// Process reads SSH_MCP_* environment variables, expands "~" in path settings
// and fills in paths derived from DataPath.
func Process() (Settings, error) {
	var s Settings
	if err := envconfig.Process("SSH_MCP", &s); err != nil {
		return s, err
	}
	if s.MaxSessions <= 0 {
		return s, fmt.Errorf("SSH_MCP_MAX_SESSIONS must be positive, got %d", s.MaxSessions)
	}
	if s.SessionTimeout <= 0 {
		return s, fmt.Errorf("SSH_MCP_SESSION_TIMEOUT must be positive, got %s", s.SessionTimeout)
	}
	if s.CommandTimeout <= 0 {
		return s, fmt.Errorf("SSH_MCP_COMMAND_TIMEOUT must be positive, got %s", s.CommandTimeout)
	}

	var err error
	for _, p := range []*string{&s.DataPath, &s.LogPath, &s.DatabasePath, &s.HostsFile, &s.KnownHostsFile} {
		if *p, err = homedir.Expand(*p); err != nil {
			return s, fmt.Errorf("expand %q: %w", *p, err)
		}
	}
	for i, f := range s.IdentityFiles {
		if s.IdentityFiles[i], err = homedir.Expand(f); err != nil {
			return s, fmt.Errorf("expand %q: %w", f, err)
		}
	}

	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "ssh-mcp.log")
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "audit.db")
	}
	return s, nil
}
