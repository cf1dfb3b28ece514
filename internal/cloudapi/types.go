package cloudapi

// Server lifecycle statuses reported by the provider
const (
	StatusInitializing = "initializing"
	StatusStarting     = "starting"
	StatusMigrating    = "migrating"
	StatusRunning      = "running"
)

// Server is the provider's view of a compute instance. PublicIPv4 is empty
// until the instance reaches the running status.
type Server struct {
	ID         int64
	Name       string
	Status     string
	PublicIPv4 string
	Labels     map[string]string
}

// SSHKey is a public key registered with the provider
type SSHKey struct {
	ID        int64
	Name      string
	PublicKey string
	Labels    map[string]string
}

// CreateServerOpts are the parameters for creating an instance. Image is
// always textual on the wire; numeric snapshot ids must be coerced to their
// string form by the caller.
type CreateServerOpts struct {
	Name       string
	ServerType string
	Image      string
	Location   string
	SSHKeys    []int64
	Labels     map[string]string
	UserData   string
}

// wire envelopes

type serverEnvelope struct {
	Server wireServer `json:"server"`
}

type serverListEnvelope struct {
	Servers []wireServer `json:"servers"`
}

type sshKeyEnvelope struct {
	SSHKey wireSSHKey `json:"ssh_key"`
}

type sshKeyListEnvelope struct {
	SSHKeys []wireSSHKey `json:"ssh_keys"`
}

type wireServer struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	PublicNet wirePublicNet     `json:"public_net"`
	Labels    map[string]string `json:"labels"`
}

type wirePublicNet struct {
	IPv4 wireIPv4 `json:"ipv4"`
}

type wireIPv4 struct {
	IP string `json:"ip"`
}

type wireSSHKey struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	PublicKey string            `json:"public_key"`
	Labels    map[string]string `json:"labels"`
}

type createServerRequest struct {
	Name       string            `json:"name"`
	ServerType string            `json:"server_type"`
	Image      string            `json:"image"`
	Location   string            `json:"location,omitempty"`
	SSHKeys    []int64           `json:"ssh_keys,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	UserData   string            `json:"user_data,omitempty"`
}

type createSSHKeyRequest struct {
	Name      string            `json:"name"`
	PublicKey string            `json:"public_key"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func (w wireServer) toServer() Server {
	return Server{
		ID:         w.ID,
		Name:       w.Name,
		Status:     w.Status,
		PublicIPv4: w.PublicNet.IPv4.IP,
		Labels:     w.Labels,
	}
}

func (w wireSSHKey) toSSHKey() SSHKey {
	return SSHKey{
		ID:        w.ID,
		Name:      w.Name,
		PublicKey: w.PublicKey,
		Labels:    w.Labels,
	}
}
