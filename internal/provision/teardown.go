package provision

import (
	"context"
	"fmt"
	"time"

	"jido/internal/cloudapi"
	"jido/internal/keymanager"
	"jido/internal/logging"

	"go.uber.org/zap"
)

// DefaultRetryBackoffs is the delete retry schedule used when the request
// does not supply one: an immediate attempt, then 1s and 3s later.
var DefaultRetryBackoffs = []time.Duration{0, time.Second, 3 * time.Second}

// TeardownRequest carries the identifiers produced by provisioning
type TeardownRequest struct {
	SessionID  string
	ServerID   int64
	KeyID      int64
	KeyCleanup keymanager.CleanupStrategy
	// RetryBackoffs is the per-attempt sleep before each delete attempt;
	// nil selects DefaultRetryBackoffs.
	RetryBackoffs []time.Duration
}

// Outcome reports what teardown managed to clean up. Warnings are ordered
// by first occurrence and deduplicated; nil means no warnings.
type Outcome struct {
	Verified bool
	Attempts int
	Warnings []string
}

// Teardown stops the shell session, deletes the instance with bounded
// retries and idempotent verification, and conditionally releases the SSH
// key. It never returns an error: every failure degrades to a warning so
// callers can always inspect what was and wasn't cleaned up.
func (p *Provisioner) Teardown(ctx context.Context, req TeardownRequest) Outcome {
	warnings := newWarningSet()

	if req.SessionID != "" {
		if err := p.agent.Stop(req.SessionID); err != nil {
			warnings.add(fmt.Sprintf("failed to stop session %s: %v", req.SessionID, err))
		}
	}

	verified, attempts := p.deleteServerVerified(ctx, req, warnings)

	if req.KeyID != 0 && req.KeyCleanup != "" {
		if err := p.keys.MaybeCleanup(ctx, req.KeyID, req.KeyCleanup); err != nil {
			warnings.add(fmt.Sprintf("failed to release SSH key %d: %v", req.KeyID, err))
		}
	}

	outcome := Outcome{Verified: verified, Attempts: attempts, Warnings: warnings.list()}

	logging.Logger().Info("Teardown finished",
		zap.Int64("server_id", req.ServerID),
		zap.Bool("verified", outcome.Verified),
		zap.Int("attempts", outcome.Attempts),
		zap.Strings("warnings", logging.TruncateSlice(outcome.Warnings, 10)))

	return outcome
}

// deleteServerVerified runs the attempt-indexed delete loop. An instance
// counts as gone only when delete reports not-found, or a recheck after a
// successful delete no longer finds it.
func (p *Provisioner) deleteServerVerified(ctx context.Context, req TeardownRequest, warnings *warningSet) (bool, int) {
	if req.ServerID == 0 {
		warnings.add("server_id_missing: nothing to delete")
		return false, 0
	}

	backoffs := req.RetryBackoffs
	if backoffs == nil {
		backoffs = DefaultRetryBackoffs
	}

	attempts := 0
	for _, backoff := range backoffs {
		if backoff > 0 {
			time.Sleep(backoff)
		}
		attempts++

		err := p.api.DeleteServer(ctx, req.ServerID)
		if err != nil {
			if cloudapi.IsNotFound(err) {
				// Already gone; that is the goal state.
				return true, attempts
			}
			warnings.add(fmt.Sprintf("failed to delete server %d: %v", req.ServerID, err))
			continue
		}

		// Delete accepted; a successful response alone is not proof. Only
		// absence on recheck confirms the teardown.
		_, err = p.api.GetServer(ctx, req.ServerID)
		if cloudapi.IsNotFound(err) {
			return true, attempts
		}
		if err != nil {
			warnings.add(fmt.Sprintf("failed to verify deletion of server %d: %v", req.ServerID, err))
			continue
		}

		logging.Logger().Debug("Server still present after delete, retrying",
			zap.Int64("server_id", req.ServerID),
			zap.Int("attempt", attempts))
	}

	return false, attempts
}

// warningSet collects warnings, keeping first-occurrence order and dropping
// duplicates.
type warningSet struct {
	seen  map[string]struct{}
	order []string
}

func newWarningSet() *warningSet {
	return &warningSet{seen: make(map[string]struct{})}
}

func (w *warningSet) add(msg string) {
	if _, dup := w.seen[msg]; dup {
		return
	}
	w.seen[msg] = struct{}{}
	w.order = append(w.order, msg)
}

// list returns nil when no warnings were recorded
func (w *warningSet) list() []string {
	if len(w.order) == 0 {
		return nil
	}
	return w.order
}
