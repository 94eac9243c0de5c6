// Package sshconn opens authenticated SSH connections and runs one command per
// exec channel on them.
//
// [Provider] is the abstraction the rest of the module depends on: given a
// host target it returns a [Conn] that can run a command string and report
// stdout, stderr and the exit status. [Dialer] is the production Provider built
// on golang.org/x/crypto/ssh.
//
// # Targets
//
// A target is either an alias from the hosts file ([LoadHosts]) or
// "[user@]host[:port]". Aliases supply hostname, port, user and an optional
// identity file; explicit parts of the target override the alias.
//
// # Authentication and host keys
//
// Keys come from the running ssh-agent (SSH_AUTH_SOCK) and from identity
// files. Host keys are verified against a known_hosts file unless
// InsecureIgnoreHostKey is set.
//
// # Errors
//
// Dial, handshake and channel failures are returned as [*ConnError]. A command
// that runs and exits non-zero is not an error; its status is in
// [Result.ExitStatus]. When the context passed to [Conn.Run] is done, the exec
// channel is closed and ctx.Err() is returned; the connection stays usable.
//
// # Log Prefixes
//
// Connection lifecycle logs at the [sshconn] prefix.
package sshconn
