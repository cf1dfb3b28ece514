package keymanager

// Strategy selects how the SSH key for an instance is obtained. It is a
// sealed variant; each variant carries exactly the fields it needs.
type Strategy interface {
	strategyName() string
}

// Shared reuses one key across all managed instances, looked up by name.
// PrivateKey is the caller-held private material for that key; when empty,
// a remote key found under Name is treated as orphaned from a prior failed
// run and replaced.
type Shared struct {
	Name       string
	PrivateKey string
}

// Ephemeral generates a fresh uniquely-named key for a single instance. It
// is always deleted at teardown.
type Ephemeral struct{}

// Existing references a caller-supplied key. It is never created or deleted
// by this system.
type Existing struct {
	KeyID      int64
	PrivateKey string
}

func (Shared) strategyName() string    { return "shared" }
func (Ephemeral) strategyName() string { return "ephemeral" }
func (Existing) strategyName() string  { return "existing" }

// CleanupStrategy is the teardown-time disposition of a secured key
type CleanupStrategy string

const (
	// CleanupNone leaves the key alone (existing-strategy origin)
	CleanupNone CleanupStrategy = "none"
	// CleanupEphemeral deletes the key unconditionally
	CleanupEphemeral CleanupStrategy = "ephemeral"
	// CleanupShared deletes the key only when no managed instances remain
	CleanupShared CleanupStrategy = "shared"
)

// SecuredKey is the outcome of Ensure: a provider key id, the private
// material that authenticates against it, and how to dispose of it later.
// It lives only for the provisioning+teardown call pair.
type SecuredKey struct {
	KeyID      int64
	PrivateKey string
	Cleanup    CleanupStrategy
}
