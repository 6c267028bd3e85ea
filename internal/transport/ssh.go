package transport

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pkg/sftp"

	"github.com/driftsync/driftsync/internal/utils"
)

// Config describes how to reach the remote host. PrivateKeyPath and
// Password are mutually optional; at least one auth method must resolve or
// Dial fails. InsecureIgnoreHostKey should only ever be set from an explicit
// opt-in flag, never a default.
type Config struct {
	Host                 string
	Port                 int
	User                 string
	PrivateKeyPath       string
	Password             string
	KnownHostsPath       string
	InsecureIgnoreHostKey bool
	DialTimeout          time.Duration
	KeepAliveInterval    time.Duration
}

// Session is the concrete RemoteSession backed by a single SSH connection
// plus an SFTP subsystem opened over it. Every exec/upload/download call
// serializes on mu: the control channel is one TCP connection, and
// multiplexing SSH channels over it concurrently from multiple goroutines
// invites subtle EOF races under a flaky link.
type Session struct {
	cfg Config

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client

	keepAliveStop chan struct{}
}

func Dial(cfg Config) (*Session, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	s := &Session{cfg: cfg}
	if err := s.connect(); err != nil {
		return nil, err
	}
	s.startKeepAlive()
	return s, nil
}

func (s *Session) connect() error {
	authMethods, err := resolveAuthMethods(s.cfg)
	if err != nil {
		return err
	}

	hostKeyCallback, err := resolveHostKeyCallback(s.cfg)
	if err != nil {
		return err
	}

	clientConfig := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.DialTimeout,
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("open sftp subsystem: %w", err)
	}

	s.client = client
	s.sftp = sftpClient
	slog.Info("ssh connected", "host", s.cfg.Host, "port", s.cfg.Port, "user", s.cfg.User)
	return nil
}

func resolveAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", cfg.PrivateKeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		slog.Debug("using password auth", "password", utils.MaskSecret(cfg.Password))
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth method configured: set a private key path or password")
	}
	return methods, nil
}

func resolveHostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		slog.Warn("host key verification disabled, connection is not authenticated against a known host")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default known_hosts path: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func (s *Session) startKeepAlive() {
	s.keepAliveStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.keepAliveStop:
				return
			case <-ticker.C:
				if err := s.Heartbeat(); err != nil {
					slog.Warn("keep-alive probe failed", "error", err)
				}
			}
		}
	}()
}

func (s *Session) Heartbeat() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}
	_, _, err := client.SendRequest("keepalive@driftsync", true, nil)
	return err
}

// Reconnect tears down and re-establishes the connection with the same
// credentials. It is safe to call concurrently with in-flight operations
// that hold mu, since they'll simply block until the swap completes.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	return s.connect()
}

func (s *Session) closeLocked() {
	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *Session) Close() error {
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Session) Exec(command string) (stdout, stderr []byte, exitCode int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, nil, -1, fmt.Errorf("not connected")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("open exec session: %w", err)
	}
	defer sess.Close()

	var outBuf, errBuf bytes.Buffer
	sess.Stdout = &outBuf
	sess.Stderr = &errBuf

	runErr := sess.Run(command)
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	var exitErr *ssh.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		return stdout, stderr, exitErr.ExitStatus(), nil
	}
	return stdout, stderr, -1, fmt.Errorf("exec %q: %w", command, runErr)
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (s *Session) Upload(r io.Reader, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sftp.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir -p %s: %w", filepath.Dir(remotePath), err)
	}
	f, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return nil
}

func (s *Session) Download(remotePath string, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.sftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", remotePath, err)
	}
	return nil
}

func (s *Session) Exists(remotePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.sftp.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", remotePath, err)
}

func (s *Session) Remove(remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.sftp.Remove(remotePath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
