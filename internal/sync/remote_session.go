package sync

import "io"

// RemoteSession is the abstract capability the core needs from the far
// side of the connection. A concrete implementation (SSH/SFTP control
// channel, or a fake for tests) lives outside this package; the core only
// ever calls through this interface, never touching a transport directly.
type RemoteSession interface {
	// Exec runs command on the remote shell and returns its captured
	// stdout/stderr and exit code. A non-nil error means the command could
	// not even be dispatched (a transport fault); a non-zero exitCode with
	// a nil error means the command ran and failed.
	Exec(command string) (stdout, stderr []byte, exitCode int, err error)

	// Upload streams r to remotePath, creating it if necessary.
	Upload(r io.Reader, remotePath string) error

	// Download streams remotePath to w.
	Download(remotePath string, w io.Writer) error

	// Exists reports whether remotePath is present.
	Exists(remotePath string) (bool, error)

	// Remove deletes remotePath; missing files are not an error.
	Remove(remotePath string) error

	// Heartbeat sends a keep-alive probe over the control channel.
	Heartbeat() error

	// Reconnect tears down and re-establishes the underlying connection.
	Reconnect() error
}
