package control

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"jido/internal/logging"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// DefaultSSHPort is used when ConnectParams.Port is zero
const DefaultSSHPort = 22

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// SSHDialer opens real SSH connections with key-based auth
type SSHDialer struct{}

// Connect dials the endpoint and authenticates. The returned closer is the
// live ssh client; reachability probes close it immediately.
func (SSHDialer) Connect(params ConnectParams, timeout time.Duration) (io.Closer, error) {
	client, err := dial(params, timeout)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func dial(params ConnectParams, timeout time.Duration) (*ssh.Client, error) {
	signer, err := parsePrivateKey(params.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	port := params.Port
	if port == 0 {
		port = DefaultSSHPort
	}

	clientConfig := &ssh.ClientConfig{
		User: params.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host key unknown on first boot
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(params.Host, strconv.Itoa(port)), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	return client, nil
}

// remoteSession is one live shell session against an instance
type remoteSession struct {
	client      *ssh.Client
	sftpClient  *sftp.Client
	workspaceID string
	host        string
}

// SSHAgent implements Agent over real SSH connections, one per session id
type SSHAgent struct {
	mu       sync.Mutex
	sessions map[string]*remoteSession
}

// NewSSHAgent creates an empty agent
func NewSSHAgent() *SSHAgent {
	return &SSHAgent{sessions: make(map[string]*remoteSession)}
}

// Start opens an SSH connection plus an SFTP channel and registers them
// under a fresh session id.
func (a *SSHAgent) Start(workspaceID string, params ConnectParams) (string, error) {
	client, err := dial(params, 30*time.Second)
	if err != nil {
		return "", err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		safeClose("SSH client", client.Close)
		return "", fmt.Errorf("failed to create SFTP client: %w", err)
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.sessions[sessionID] = &remoteSession{
		client:      client,
		sftpClient:  sftpClient,
		workspaceID: workspaceID,
		host:        params.Host,
	}
	a.mu.Unlock()

	logging.Logger().Info("Shell session started",
		zap.String("session_id", sessionID),
		zap.String("workspace_id", workspaceID),
		zap.String("host", params.Host))

	return sessionID, nil
}

// Run executes a command in the session, bounded by timeout
func (a *SSHAgent) Run(sessionID, command string, timeout time.Duration) (string, error) {
	rs, err := a.session(sessionID)
	if err != nil {
		return "", err
	}

	session, err := rs.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", rs.host),
		zap.String("session_id", sessionID))

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	if timeout <= 0 {
		err = <-done
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case err = <-done:
		case <-timer.C:
			// Closing the session tears down the remote command.
			_ = session.Close()
			return stdout.String(), fmt.Errorf("command timed out after %v", timeout)
		}
	}

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", rs.host),
		zap.String("session_id", sessionID),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdout.String()))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	if err != nil {
		return stdout.String(), fmt.Errorf("command failed: %w", err)
	}
	return stdout.String(), nil
}

// MkdirAll creates a remote directory tree over the session's SFTP channel
func (a *SSHAgent) MkdirAll(sessionID, path string) error {
	rs, err := a.session(sessionID)
	if err != nil {
		return err
	}
	if err := rs.sftpClient.MkdirAll(path); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", path, err)
	}
	logging.Logger().Debug("Created remote directory",
		zap.String("path", path),
		zap.String("host", rs.host))
	return nil
}

// WriteFile writes content to a remote file over the session's SFTP channel
func (a *SSHAgent) WriteFile(sessionID, path, content string) error {
	rs, err := a.session(sessionID)
	if err != nil {
		return err
	}
	file, err := rs.sftpClient.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", path, err)
	}
	defer safeClose("remote file", file.Close)

	if _, err := file.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", path, err)
	}
	return nil
}

// Stop closes the session's SFTP and SSH connections and forgets it
func (a *SSHAgent) Stop(sessionID string) error {
	a.mu.Lock()
	rs, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	safeClose("SFTP client", rs.sftpClient.Close)
	if err := rs.client.Close(); err != nil {
		return fmt.Errorf("failed to close SSH connection: %w", err)
	}

	logging.Logger().Info("Shell session stopped",
		zap.String("session_id", sessionID),
		zap.String("workspace_id", rs.workspaceID))
	return nil
}

func (a *SSHAgent) session(sessionID string) (*remoteSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return rs, nil
}

// parsePrivateKey parses an SSH private key from PEM-encoded content
func parsePrivateKey(privateKeyPEM string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
