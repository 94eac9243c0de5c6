package logutil

import "strings"

// maxCommandLen bounds how much of a remote command is written to a log line.
const maxCommandLen = 80

// SanitizeForLog removes newlines and control characters from strings that
// reach the log from callers or remote hosts, so they cannot forge extra log
// entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n', r == '\r', r == '\t':
			b.WriteByte(' ')
		case r < 32, r == 127:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Command sanitizes a command line and truncates it to keep logs readable.
func Command(cmd string) string {
	cmd = SanitizeForLog(cmd)
	if len(cmd) > maxCommandLen {
		cmd = cmd[:maxCommandLen] + "..."
	}
	return cmd
}
