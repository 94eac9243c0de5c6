// Package sshaudit records an audit trail of remote command execution.
//
// # Event Types
//
//   - [EventCommandExecution]: a one-shot or session command finished, failed
//     or timed out. Records carry the sanitized command, exit code, outcome
//     kind and duration.
//   - [EventConnectionFailed]: a connection could not be opened.
//   - [EventSessionStart], [EventSessionClose], [EventSessionEvict] and
//     [EventSessionShutdown]: session lifecycle, fed by
//     [Auditor.SessionListener].
//
// # Retention and Purging
//
// Records are kept for [DefaultRetentionDays] unless configured otherwise;
// [Auditor.PurgeOlderThan] removes older rows and is run on a schedule.
//
// A nil *Auditor is valid and records nothing, so audit can be disabled
// without guarding every call site.
package sshaudit
