// Package sshexec runs commands over SSH connections, either one-shot on a
// fresh connection or inside a persistent session whose working directory is
// carried between calls.
//
// # Session Protocol
//
// Each exec channel starts a new shell, so a session's working directory is
// re-established on every call. The command is wrapped as
//
//	cd <cwd> && { <command>; }; __ssh_mcp_rc=$?; echo '___CWD___'; pwd; exit $__ssh_mcp_rc
//
// and stdout is split at the first "___CWD___" line. Everything before it is
// the command's output; the text after it is the directory the shell ended in.
// That directory is checked with [shellpath.Validate] before it is stored, and
// the stored value is checked again before it is interpolated into the next
// wrapper. A command that exits the shell early skips the suffix: its output
// is returned unchanged and the working directory is kept.
//
// # Errors
//
// [KindOf] classifies any error returned by this package or by the packages
// it calls into a [Kind] suitable for API responses.
//
// # Log Prefixes
//
//   - [ssh-exec]: one-shot and session command execution
package sshexec
