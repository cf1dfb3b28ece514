package provision

import "errors"

// Provisioning stage failures. Every pipeline stage returns its failure
// immediately and the whole call aborts; resources created by earlier
// stages are not rolled back.
var (
	// ErrMissingToken means the config carried no API token
	ErrMissingToken = errors.New("missing or blank API token")

	// ErrServerCreateFailed means the create-instance call was rejected
	ErrServerCreateFailed = errors.New("server_create_failed")

	// ErrUnexpectedServerStatus means the boot poll saw a status outside
	// initializing|starting|migrating|running
	ErrUnexpectedServerStatus = errors.New("unexpected_server_status")

	// ErrServerPollFailed means a transport or API failure interrupted the
	// boot poll
	ErrServerPollFailed = errors.New("server_poll_failed")

	// ErrServerTimeout means the instance did not reach running with a
	// public address before the boot deadline
	ErrServerTimeout = errors.New("server_timeout")

	// ErrSSHTimeout means no SSH handshake succeeded before the deadline
	ErrSSHTimeout = errors.New("ssh_timeout")
)
