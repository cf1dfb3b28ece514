package provision

import (
	"jido/internal/logging"

	"go.uber.org/zap"
)

// Stage tags a pipeline transition reported through ProgressFunc
type Stage string

const (
	StageValidateConfig  Stage = "validate_config"
	StageSecureSSHKey    Stage = "secure_ssh_key"
	StageCreateServer    Stage = "create_server"
	StageWaitForServer   Stage = "wait_for_server"
	StageWaitForSSH      Stage = "wait_for_ssh"
	StageStartSession    Stage = "start_session"
	StageCreateWorkspace Stage = "create_workspace"
)

// ProgressFunc observes pipeline transitions. Observers are best-effort:
// they run on the provisioning goroutine but cannot fail the pipeline.
type ProgressFunc func(stage Stage, meta map[string]string)

// notify invokes the progress callback, shielding the pipeline from a
// panicking observer.
func notify(progress ProgressFunc, stage Stage, meta map[string]string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Logger().Warn("progress callback panicked",
				zap.String("stage", string(stage)),
				zap.Any("panic", r))
		}
	}()
	progress(stage, meta)
}
