package control

import (
	"io"
	"time"
)

// ConnectParams identify an SSH endpoint and the key that authenticates
// against it.
type ConnectParams struct {
	Host       string
	Port       int
	User       string
	PrivateKey string // PEM-encoded private key content
}

// Dialer opens SSH connections. The provisioning orchestrator uses it for
// reachability probes (connect, then close immediately); the agent reuses
// the same params for the real session.
type Dialer interface {
	Connect(params ConnectParams, timeout time.Duration) (io.Closer, error)
}

// Agent manages remote shell sessions against provisioned instances
type Agent interface {
	// Start opens a session bound to a workspace and returns its id
	Start(workspaceID string, params ConnectParams) (string, error)

	// Run executes a command in a session and returns combined stdout
	Run(sessionID, command string, timeout time.Duration) (string, error)

	// MkdirAll creates a directory tree on the session's remote host
	MkdirAll(sessionID, path string) error

	// WriteFile writes content to a file on the session's remote host
	WriteFile(sessionID, path, content string) error

	// Stop closes a session and releases its connections
	Stop(sessionID string) error
}
