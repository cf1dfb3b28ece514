package provision

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jido/internal/keymanager"
)

// InstanceNamePrefix is prepended to the workspace id when naming instances
const InstanceNamePrefix = "jido-"

// maxInstanceNameLength is the DNS label limit
const maxInstanceNameLength = 63

// Default poll pacing applied when the config leaves a value zero
const (
	DefaultServerBootTimeout = 5 * time.Minute
	DefaultSSHTimeout        = 5 * time.Minute
	DefaultBootPollInterval  = 5 * time.Second
	DefaultSSHPollInterval   = 5 * time.Second
	defaultProbeDialTimeout  = 10 * time.Second
)

// ImageRef is an instance image reference. Callers may configure either a
// name ("ubuntu-24.04") or a numeric snapshot id; the API field is always
// textual, so numeric ids are coerced to their string form.
type ImageRef string

// ImageFromID builds an ImageRef from a numeric snapshot id
func ImageFromID(id int64) ImageRef {
	return ImageRef(strconv.FormatInt(id, 10))
}

// UnmarshalYAML accepts both a string and an integer image value
func (r *ImageRef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		*r = ImageRef(s)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("image must be a name or a numeric snapshot id: %w", err)
	}
	*r = ImageFromID(n)
	return nil
}

func (r ImageRef) String() string {
	return string(r)
}

// Config is the fully-resolved configuration for one provision call.
// Default-merging happens in the configuration loader; by the time a Config
// reaches the orchestrator, call-site values have already won. It is not
// mutated during the call.
type Config struct {
	Token       string
	ServerType  string
	Image       ImageRef
	Region      string
	KeyStrategy keymanager.Strategy

	WorkspaceBase string
	Labels        map[string]string
	UserData      string

	ServerBootTimeout time.Duration
	SSHTimeout        time.Duration
	BootPollInterval  time.Duration
	SSHPollInterval   time.Duration

	SSHUser string
	SSHPort int
}

// withDefaults fills zero-valued pacing fields. The returned copy is what
// the poll loops run against.
func (c Config) withDefaults() Config {
	if c.ServerBootTimeout <= 0 {
		c.ServerBootTimeout = DefaultServerBootTimeout
	}
	if c.SSHTimeout <= 0 {
		c.SSHTimeout = DefaultSSHTimeout
	}
	if c.BootPollInterval <= 0 {
		c.BootPollInterval = DefaultBootPollInterval
	}
	if c.SSHPollInterval <= 0 {
		c.SSHPollInterval = DefaultSSHPollInterval
	}
	if c.SSHUser == "" {
		c.SSHUser = "root"
	}
	return c
}

// InstanceName derives the DNS-label-safe instance name for a workspace
func InstanceName(workspaceID string) string {
	return sanitizeInstanceName(InstanceNamePrefix + workspaceID)
}

// sanitizeInstanceName lowercases the input, replaces everything outside
// [a-z0-9-] with a hyphen, collapses runs of hyphens, trims hyphens at both
// ends, and caps the result at 63 characters.
func sanitizeInstanceName(raw string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxInstanceNameLength {
		name = strings.TrimRight(name[:maxInstanceNameLength], "-")
	}
	return name
}
