package keymanager

import (
	"context"
	"errors"
	"fmt"

	"jido/internal/cloudapi"
	"jido/internal/logging"
	"jido/internal/sshkey"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Management label attached to every instance this system creates. Shared
// key cleanup counts remaining instances by this label.
const (
	ManagementLabel      = "managed-by"
	ManagementLabelValue = "jido"
)

// ManagementSelector is the label selector matching managed instances
func ManagementSelector() string {
	return ManagementLabel + "=" + ManagementLabelValue
}

var (
	// ErrMissingSSHKeyID means the existing strategy was chosen without a key id
	ErrMissingSSHKeyID = errors.New("missing_ssh_key_id: existing key strategy requires a key id")
	// ErrMissingSSHPrivateKey means the existing strategy was chosen without private key material
	ErrMissingSSHPrivateKey = errors.New("missing_ssh_private_key: existing key strategy requires private key material")
	// ErrSSHKeyConflict means a create raced with another provision call and
	// the re-lookup still found nothing
	ErrSSHKeyConflict = errors.New("ssh_key_conflict: key create conflicted and re-lookup found no key")
)

// Generator produces a serialized key pair. Swapped out in tests.
type Generator func() (*sshkey.KeyPair, error)

// Manager decides whether to create, reuse, or reference an SSH key during
// provisioning, and whether to delete it at teardown.
type Manager struct {
	api      cloudapi.Client
	generate Generator
	// prefix for ephemeral key names; the uuid suffix makes them unique
	namePrefix string
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithGenerator replaces the key pair generator
func WithGenerator(g Generator) ManagerOption {
	return func(m *Manager) {
		m.generate = g
	}
}

// NewManager creates a key lifecycle manager backed by the given API client
func NewManager(api cloudapi.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:        api,
		generate:   sshkey.Generate,
		namePrefix: ManagementLabelValue,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure secures an SSH key according to the strategy and returns the key
// id, the private material to authenticate with, and the cleanup strategy
// teardown must apply.
func (m *Manager) Ensure(ctx context.Context, strategy Strategy) (*SecuredKey, error) {
	switch s := strategy.(type) {
	case Existing:
		return m.ensureExisting(s)
	case Ephemeral:
		return m.ensureEphemeral(ctx)
	case Shared:
		return m.ensureShared(ctx, s)
	default:
		return nil, fmt.Errorf("unknown key strategy %T", strategy)
	}
}

// ensureExisting validates the caller-supplied key reference. It never
// touches the API.
func (m *Manager) ensureExisting(s Existing) (*SecuredKey, error) {
	if s.KeyID == 0 {
		return nil, ErrMissingSSHKeyID
	}
	if s.PrivateKey == "" {
		return nil, ErrMissingSSHPrivateKey
	}
	return &SecuredKey{KeyID: s.KeyID, PrivateKey: s.PrivateKey, Cleanup: CleanupNone}, nil
}

func (m *Manager) ensureEphemeral(ctx context.Context) (*SecuredKey, error) {
	kp, err := m.generate()
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s-%s", m.namePrefix, uuid.NewString())
	key, err := m.api.CreateSSHKey(ctx, name, kp.PublicKey, managementLabels())
	if err != nil {
		return nil, fmt.Errorf("failed to create ephemeral SSH key %q: %w", name, err)
	}

	logging.Logger().Info("Created ephemeral SSH key",
		zap.Int64("key_id", key.ID),
		zap.String("key_name", name))

	return &SecuredKey{KeyID: key.ID, PrivateKey: kp.PrivateKey, Cleanup: CleanupEphemeral}, nil
}

func (m *Manager) ensureShared(ctx context.Context, s Shared) (*SecuredKey, error) {
	key, err := m.api.SSHKeyByName(ctx, s.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up shared SSH key %q: %w", s.Name, err)
	}

	if key != nil {
		if s.PrivateKey != "" {
			// Remote key and local material line up: reuse as-is.
			logging.Logger().Debug("Reusing shared SSH key",
				zap.Int64("key_id", key.ID),
				zap.String("key_name", s.Name))
			return &SecuredKey{KeyID: key.ID, PrivateKey: s.PrivateKey, Cleanup: CleanupShared}, nil
		}

		// Remote key exists but nobody holds its private half; orphaned by
		// a prior failed run. Replace it under the same name.
		logging.Logger().Warn("Replacing orphaned shared SSH key",
			zap.Int64("key_id", key.ID),
			zap.String("key_name", s.Name))
		if err := m.api.DeleteSSHKey(ctx, key.ID); err != nil && !cloudapi.IsNotFound(err) {
			return nil, fmt.Errorf("failed to delete orphaned shared SSH key %q: %w", s.Name, err)
		}
	}

	return m.createShared(ctx, s)
}

// createShared creates the shared key, tolerating exactly one create/create
// race with a concurrent provision call: on conflict the key is looked up
// once more by name, and the winner's key is reused.
func (m *Manager) createShared(ctx context.Context, s Shared) (*SecuredKey, error) {
	kp, err := m.generate()
	if err != nil {
		return nil, err
	}

	key, err := m.api.CreateSSHKey(ctx, s.Name, kp.PublicKey, managementLabels())
	if err == nil {
		logging.Logger().Info("Created shared SSH key",
			zap.Int64("key_id", key.ID),
			zap.String("key_name", s.Name))
		return &SecuredKey{KeyID: key.ID, PrivateKey: kp.PrivateKey, Cleanup: CleanupShared}, nil
	}
	if !cloudapi.IsConflict(err) {
		return nil, fmt.Errorf("failed to create shared SSH key %q: %w", s.Name, err)
	}

	existing, lookupErr := m.api.SSHKeyByName(ctx, s.Name)
	if lookupErr != nil {
		return nil, fmt.Errorf("re-lookup after SSH key conflict failed for %q: %w", s.Name, lookupErr)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: key %q", ErrSSHKeyConflict, s.Name)
	}

	logging.Logger().Info("Lost shared SSH key create race, reusing winner's key",
		zap.Int64("key_id", existing.ID),
		zap.String("key_name", s.Name))

	material := s.PrivateKey
	if material == "" {
		material = kp.PrivateKey
	}
	return &SecuredKey{KeyID: existing.ID, PrivateKey: material, Cleanup: CleanupShared}, nil
}

// MaybeCleanup releases a secured key according to its cleanup strategy.
// Ephemeral keys are deleted unconditionally; shared keys only when no
// managed instances remain; existing keys are never touched. Not-found on
// delete is treated as success.
func (m *Manager) MaybeCleanup(ctx context.Context, keyID int64, cleanup CleanupStrategy) error {
	switch cleanup {
	case CleanupNone:
		return nil

	case CleanupEphemeral:
		if err := m.api.DeleteSSHKey(ctx, keyID); err != nil && !cloudapi.IsNotFound(err) {
			return fmt.Errorf("failed to delete ephemeral SSH key %d: %w", keyID, err)
		}
		return nil

	case CleanupShared:
		servers, err := m.api.ListServers(ctx, ManagementSelector())
		if err != nil {
			// Could not tell whether anything still uses the key; leave it
			// in place rather than risk deleting a key in use.
			return fmt.Errorf("failed to count remaining managed instances, leaving shared key %d in place: %w", keyID, err)
		}
		if len(servers) > 0 {
			logging.Logger().Debug("Leaving shared SSH key in place",
				zap.Int64("key_id", keyID),
				zap.Int("remaining_instances", len(servers)))
			return nil
		}
		if err := m.api.DeleteSSHKey(ctx, keyID); err != nil && !cloudapi.IsNotFound(err) {
			return fmt.Errorf("failed to delete shared SSH key %d: %w", keyID, err)
		}
		logging.Logger().Info("Deleted shared SSH key", zap.Int64("key_id", keyID))
		return nil

	default:
		return fmt.Errorf("unknown cleanup strategy %q", cleanup)
	}
}

func managementLabels() map[string]string {
	return map[string]string{ManagementLabel: ManagementLabelValue}
}
