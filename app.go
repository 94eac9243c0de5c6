package main

import (
	"fmt"
	"log"

	"github.com/mitchellh/go-homedir"
	"gorm.io/gorm"

	"github.com/chrisreddington/ssh-mcp/internal/config"
	"github.com/chrisreddington/ssh-mcp/internal/database"
	"github.com/chrisreddington/ssh-mcp/internal/handlers"
	"github.com/chrisreddington/ssh-mcp/internal/metrics"
	"github.com/chrisreddington/ssh-mcp/internal/scheduler"
	"github.com/chrisreddington/ssh-mcp/internal/sshaudit"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
	"github.com/chrisreddington/ssh-mcp/internal/tools"
)

// app holds the process-wide components built from the configuration.
type app struct {
	cfg       config.Settings
	db        *gorm.DB
	auditor   *sshaudit.Auditor
	store     *sshsession.Store
	runner    *sshexec.Runner
	service   *tools.Service
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
}

// newDialer builds the production connection provider from cfg.
func newDialer(cfg config.Settings) (*sshconn.Dialer, error) {
	hosts, err := sshconn.LoadHosts(cfg.HostsFile)
	if err != nil {
		return nil, err
	}
	identities := cfg.IdentityFiles
	if len(identities) == 0 {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory: %w", err)
		}
		identities = sshconn.DefaultIdentityFiles(home)
	}
	if cfg.InsecureIgnoreHostKey {
		log.Printf("WARNING: host key verification is disabled")
	}
	return &sshconn.Dialer{
		Hosts:                 hosts,
		DefaultUser:           cfg.DefaultUser,
		IdentityFiles:         identities,
		KnownHostsFile:        cfg.KnownHostsFile,
		InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
		ConnectTimeout:        cfg.ConnectTimeout,
		KeepaliveInterval:     cfg.KeepaliveInterval,
	}, nil
}

// newApp wires the components on top of provider. The audit database is
// opened only when auditing is enabled.
func newApp(cfg config.Settings, provider sshconn.Provider) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.AuditEnabled {
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		auditor, err := sshaudit.NewAuditor(db, cfg.AuditRetentionDays)
		if err != nil {
			database.Close(db)
			return nil, fmt.Errorf("init audit: %w", err)
		}
		a.db = db
		a.auditor = auditor
		log.Printf("Audit trail at %s (retention %d days)", cfg.DatabasePath, auditor.RetentionDays())
	}

	a.store = sshsession.NewStore(provider, sshsession.Options{
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.SessionTimeout,
	})
	a.metrics = metrics.New(a.store.Count)
	a.store.AddListener(a.metrics.SessionListener())
	if a.auditor != nil {
		a.store.AddListener(a.auditor.SessionListener())
	}
	a.runner = sshexec.NewRunner(provider, cfg.CommandTimeout)
	a.service = tools.NewService(a.store, a.runner, a.auditor, a.metrics)

	a.scheduler = scheduler.New()
	if err := a.scheduler.AddReaper(cfg.ReapSchedule, a.store); err != nil {
		a.Close()
		return nil, err
	}
	if a.auditor != nil {
		if err := a.scheduler.AddPurge(cfg.AuditPurgeSchedule, a.auditor); err != nil {
			a.Close()
			return nil, err
		}
	}

	log.Printf("Session store initialized (max=%d, idle_timeout=%s, command_timeout=%s)",
		cfg.MaxSessions, cfg.SessionTimeout, cfg.CommandTimeout)
	return a, nil
}

// api returns the HTTP API over the app's components.
func (a *app) api() *handlers.API {
	return &handlers.API{Service: a.service, Auditor: a.auditor, Metrics: a.metrics, DB: a.db}
}

// Close stops background jobs, closes every session and the database.
func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.store != nil {
		a.store.CloseAll()
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Printf("close database: %v", err)
		}
	}
}
