package sshaudit

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/chrisreddington/ssh-mcp/internal/database"
	"github.com/chrisreddington/ssh-mcp/internal/logutil"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

// Event types for audit records.
const (
	EventCommandExecution = "command_execution"
	EventConnectionFailed = "connection_failed"
	EventSessionStart     = "session_start"
	EventSessionClose     = "session_close"
	EventSessionEvict     = "session_evict"
	EventSessionShutdown  = "session_shutdown"
)

// OutcomeOK marks a successful operation. Failures store their error kind.
const OutcomeOK = "ok"

// DefaultRetentionDays is the default number of days to keep audit records.
const DefaultRetentionDays = 90

const maxStoredCommand = 1024

// Entry contains the fields of one audit record.
type Entry struct {
	EventType string
	Host      string
	SessionID string
	Command   string
	ExitCode  *int
	Outcome   string
	Details   string
	Duration  time.Duration
}

// Auditor writes audit records to the database and mirrors them to the log.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor on db, migrating its table. A non-positive
// retentionDays means DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) (*Auditor, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := db.AutoMigrate(&database.AuditRecord{}); err != nil {
		return nil, err
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}, nil
}

// Log stores entry. Write failures are logged and returned.
func (a *Auditor) Log(entry Entry) error {
	if a == nil {
		return nil
	}
	cmd := logutil.SanitizeForLog(entry.Command)
	if len(cmd) > maxStoredCommand {
		cmd = cmd[:maxStoredCommand]
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeOK
	}
	record := database.AuditRecord{
		EventType:  entry.EventType,
		Host:       logutil.SanitizeForLog(entry.Host),
		SessionID:  entry.SessionID,
		Command:    cmd,
		ExitCode:   entry.ExitCode,
		Outcome:    entry.Outcome,
		Details:    logutil.SanitizeForLog(entry.Details),
		DurationMs: entry.Duration.Milliseconds(),
		CreatedAt:  a.nowFn(),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit record: %v", err)
		return err
	}
	log.Printf("[ssh-audit] %s host=%s session=%s outcome=%s", record.EventType, record.Host, record.SessionID, record.Outcome)
	return nil
}

// RecordCommand stores the outcome of a command. res is ignored when err is
// set.
func (a *Auditor) RecordCommand(host, sessionID, command string, res *sshexec.Result, err error) {
	if a == nil {
		return
	}
	entry := Entry{EventType: EventCommandExecution, Host: host, SessionID: sessionID, Command: command}
	if err != nil {
		entry.Outcome = string(sshexec.KindOf(err))
		entry.Details = err.Error()
		var te *sshexec.TimeoutError
		if errors.As(err, &te) {
			entry.Duration = te.After
		}
	} else if res != nil {
		code := res.ExitStatus
		entry.ExitCode = &code
		entry.Duration = res.Duration
	}
	a.Log(entry)
	if sshconn.IsConnError(err) {
		a.RecordConnectionFailed(host, err)
	}
}

// RecordConnectionFailed stores a failed connection attempt.
func (a *Auditor) RecordConnectionFailed(host string, err error) {
	if a == nil {
		return
	}
	a.Log(Entry{
		EventType: EventConnectionFailed,
		Host:      host,
		Outcome:   string(sshexec.KindOf(err)),
		Details:   err.Error(),
	})
}

// SessionListener returns a listener that records session lifecycle events.
func (a *Auditor) SessionListener() sshsession.EventListener {
	return func(ev sshsession.Event) {
		if a == nil {
			return
		}
		entry := Entry{Host: ev.Host, SessionID: ev.SessionID}
		switch ev.Type {
		case sshsession.EventCreated:
			entry.EventType = EventSessionStart
		case sshsession.EventClosed:
			entry.EventType = EventSessionClose
		case sshsession.EventEvicted:
			entry.EventType = EventSessionEvict
			entry.Duration = ev.IdleFor
			entry.Details = "idle timeout"
		case sshsession.EventShutdown:
			entry.EventType = EventSessionShutdown
		default:
			return
		}
		a.Log(entry)
	}
}

// QueryOptions specifies filters for retrieving audit records.
type QueryOptions struct {
	Host      string
	SessionID string
	EventType string
	Outcome   string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit records and pagination metadata.
type QueryResult struct {
	Entries []database.AuditRecord `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Query retrieves records matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if a == nil {
		return &QueryResult{Entries: []database.AuditRecord{}, Limit: opts.Limit, Offset: opts.Offset}, nil
	}

	tx := a.db.Model(&database.AuditRecord{})
	if opts.Host != "" {
		tx = tx.Where("host = ?", opts.Host)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Outcome != "" {
		tx = tx.Where("outcome = ?", opts.Outcome)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	entries := []database.AuditRecord{}
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan removes records older than days, or the configured retention
// when days is not positive. It returns the number of rows deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if a == nil {
		return 0, nil
	}
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditRecord{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit records older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	if a == nil {
		return 0
	}
	return a.retentionDays
}

// SetNowFunc sets the clock used for record timestamps and purging.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
