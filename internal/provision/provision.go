package provision

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"jido/internal/cloudapi"
	"jido/internal/control"
	"jido/internal/keymanager"
	"jido/internal/logging"

	"go.uber.org/zap"
)

// KeyManager is the slice of the key lifecycle manager the orchestrators use
type KeyManager interface {
	Ensure(ctx context.Context, strategy keymanager.Strategy) (*keymanager.SecuredKey, error)
	MaybeCleanup(ctx context.Context, keyID int64, cleanup keymanager.CleanupStrategy) error
}

// Result is the durable handle a caller must retain to tear the instance
// down later; the system itself keeps no state between calls.
type Result struct {
	SessionID    string
	WorkspaceDir string
	WorkspaceID  string
	ServerID     int64
	IPAddress    string
	KeyID        int64
	KeyCleanup   keymanager.CleanupStrategy
}

// Provisioner drives the provision and teardown pipelines against one cloud
// account.
type Provisioner struct {
	api    cloudapi.Client
	keys   KeyManager
	agent  control.Agent
	dialer control.Dialer
}

// New wires a Provisioner from its collaborators
func New(api cloudapi.Client, keys KeyManager, agent control.Agent, dialer control.Dialer) *Provisioner {
	return &Provisioner{api: api, keys: keys, agent: agent, dialer: dialer}
}

// Provision runs the full pipeline: secure an SSH key, create the instance,
// wait until it is running and reachable over SSH, start a shell session
// and create the workspace directory. The first failing stage aborts the
// call; resources created by earlier stages are NOT rolled back — the
// management labels plus the shared/ephemeral key cleanup strategies are
// the reconciliation story for orphans.
func (p *Provisioner) Provision(ctx context.Context, workspaceID string, cfg Config, progress ProgressFunc) (*Result, error) {
	cfg = cfg.withDefaults()

	notify(progress, StageValidateConfig, map[string]string{"workspace_id": workspaceID})
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}

	notify(progress, StageSecureSSHKey, map[string]string{"workspace_id": workspaceID})
	key, err := p.keys.Ensure(ctx, cfg.KeyStrategy)
	if err != nil {
		return nil, err
	}

	name := InstanceName(workspaceID)
	notify(progress, StageCreateServer, map[string]string{"server_name": name})
	server, err := p.createServer(ctx, name, key.KeyID, cfg)
	if err != nil {
		return nil, err
	}

	logging.Logger().Info("Instance created, waiting for it to boot",
		zap.Int64("server_id", server.ID),
		zap.String("server_name", name))

	notify(progress, StageWaitForServer, map[string]string{"server_id": strconv.FormatInt(server.ID, 10)})
	server, err = p.waitForServer(ctx, server.ID, cfg)
	if err != nil {
		return nil, err
	}

	params := control.ConnectParams{
		Host:       server.PublicIPv4,
		Port:       cfg.SSHPort,
		User:       cfg.SSHUser,
		PrivateKey: key.PrivateKey,
	}

	notify(progress, StageWaitForSSH, map[string]string{"ip_address": server.PublicIPv4})
	if err := p.waitForSSH(params, cfg); err != nil {
		return nil, err
	}

	notify(progress, StageStartSession, map[string]string{"ip_address": server.PublicIPv4})
	sessionID, err := p.agent.Start(workspaceID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to start shell session on %s: %w", server.PublicIPv4, err)
	}

	workspaceDir := path.Join(cfg.WorkspaceBase, workspaceID)
	notify(progress, StageCreateWorkspace, map[string]string{"workspace_dir": workspaceDir})
	if err := p.agent.MkdirAll(sessionID, workspaceDir); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory %s: %w", workspaceDir, err)
	}

	logging.Logger().Info("Provisioning complete",
		zap.String("workspace_id", workspaceID),
		zap.Int64("server_id", server.ID),
		zap.String("ip_address", server.PublicIPv4),
		zap.String("session_id", sessionID))

	return &Result{
		SessionID:    sessionID,
		WorkspaceDir: workspaceDir,
		WorkspaceID:  workspaceID,
		ServerID:     server.ID,
		IPAddress:    server.PublicIPv4,
		KeyID:        key.KeyID,
		KeyCleanup:   key.Cleanup,
	}, nil
}

func (p *Provisioner) createServer(ctx context.Context, name string, keyID int64, cfg Config) (*cloudapi.Server, error) {
	labels := map[string]string{keymanager.ManagementLabel: keymanager.ManagementLabelValue}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	server, err := p.api.CreateServer(ctx, cloudapi.CreateServerOpts{
		Name:       name,
		ServerType: cfg.ServerType,
		Image:      cfg.Image.String(),
		Location:   cfg.Region,
		SSHKeys:    []int64{keyID},
		Labels:     labels,
		UserData:   cfg.UserData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: instance %q: %w", ErrServerCreateFailed, name, err)
	}
	return server, nil
}

// waitForServer polls the instance on a fixed interval until it is running
// with a public IPv4 address. Pending statuses are initializing, starting
// and migrating; anything else is fatal. The deadline is computed once, on
// entry, and checked before each retry.
func (p *Provisioner) waitForServer(ctx context.Context, serverID int64, cfg Config) (*cloudapi.Server, error) {
	deadline := time.Now().Add(cfg.ServerBootTimeout)

	for {
		server, err := p.api.GetServer(ctx, serverID)
		if err != nil {
			return nil, fmt.Errorf("%w: server %d: %w", ErrServerPollFailed, serverID, err)
		}

		switch server.Status {
		case cloudapi.StatusRunning:
			if server.PublicIPv4 != "" {
				logging.Logger().Info("Instance is running",
					zap.Int64("server_id", serverID),
					zap.String("ip_address", server.PublicIPv4))
				return server, nil
			}
			// Running but no address yet; keep polling.
		case cloudapi.StatusInitializing, cloudapi.StatusStarting, cloudapi.StatusMigrating:
			logging.Logger().Debug("Instance still booting",
				zap.Int64("server_id", serverID),
				zap.String("status", server.Status))
		default:
			return nil, fmt.Errorf("%w: server %d reported %q", ErrUnexpectedServerStatus, serverID, server.Status)
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: server %d not running after %v", ErrServerTimeout, serverID, cfg.ServerBootTimeout)
		}
		time.Sleep(cfg.BootPollInterval)
	}
}

// waitForSSH proves reachability by attempting SSH handshakes on a fixed
// interval. Every probe connection is closed immediately; the session stage
// dials its own connection afterwards.
func (p *Provisioner) waitForSSH(params control.ConnectParams, cfg Config) error {
	deadline := time.Now().Add(cfg.SSHTimeout)

	for {
		conn, err := p.dialer.Connect(params, defaultProbeDialTimeout)
		if err == nil {
			safeProbeClose(conn.Close, params.Host)
			logging.Logger().Info("SSH is reachable", zap.String("host", params.Host))
			return nil
		}

		logging.Logger().Debug("SSH not reachable yet",
			zap.String("host", params.Host),
			zap.Error(err))

		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: no SSH handshake with %s after %v", ErrSSHTimeout, params.Host, cfg.SSHTimeout)
		}
		time.Sleep(cfg.SSHPollInterval)
	}
}

func safeProbeClose(closer func() error, host string) {
	if err := closer(); err != nil {
		logging.Logger().Debug("failed to close probe connection",
			zap.String("host", host),
			zap.Error(err))
	}
}
