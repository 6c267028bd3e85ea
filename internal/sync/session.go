package sync

import "time"

// SyncConfig is the resolved configuration the core consumes. Everything
// the core needs to run a session is threaded through this record; nothing
// is read from globals.
type SyncConfig struct {
	LocalRoot  string
	RemoteRoot string
	Server     string
	Port       int
	Username   string

	IgnoreFile       string
	ChangeThreshold  float64 // seconds; default 180
	PollInterval     time.Duration
	PollTimeout      time.Duration
	RemoteTmpDir     string // scratch dir on the remote for scan/bundle temp files; defaults to /tmp

	Force     bool
	PushOnly  bool
	PullOnly  bool
	DryRun    bool
	Verbose   bool
}

// Validate checks the fields the core itself depends on. It does not
// validate SSH reachability — that is the transport's job at connect time.
func (c *SyncConfig) Validate() error {
	if c.LocalRoot == "" {
		return &ConfigError{Msg: "local_root is required"}
	}
	if c.RemoteRoot == "" {
		return &ConfigError{Msg: "remote_root is required"}
	}
	if c.Server == "" {
		return &ConfigError{Msg: "server is required"}
	}
	if c.PushOnly && c.PullOnly {
		return &ConfigError{Msg: "push_only and pull_only are mutually exclusive"}
	}
	if c.ChangeThreshold < 0 {
		return &ConfigError{Msg: "change_threshold must be >= 0"}
	}
	return nil
}

// SyncSession is the set of transient, per-run resources: a fresh UUID
// embedded into every remote temp filename so concurrent runs (or a retried
// run against orphaned temp files) never collide.
type SyncSession struct {
	ID          string
	Config      *SyncConfig
	StartedAt   time.Time
	RemoteTemps []string // paths created on the remote, for best-effort cleanup
}

func NewSyncSession(id string, cfg *SyncConfig, startedAt time.Time) *SyncSession {
	return &SyncSession{ID: id, Config: cfg, StartedAt: startedAt}
}

func (s *SyncSession) trackRemoteTemp(path string) {
	s.RemoteTemps = append(s.RemoteTemps, path)
}
