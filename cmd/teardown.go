package cmd

import (
	"context"
	"fmt"

	"jido/internal/config"
	"jido/internal/keymanager"
	"jido/internal/logging"
	"jido/internal/provision"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	teardownServerID   int64
	teardownSessionID  string
	teardownKeyID      int64
	teardownKeyCleanup string
)

// teardownCmd represents the teardown command
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Tear down a provisioned instance",
	Long: `Stop the shell session, delete the instance with bounded retries and
verified deletion, and conditionally release the SSH key. Teardown never
fails outright: every problem is reported as a warning in the outcome.`,
	Run: func(cmd *cobra.Command, args []string) {
		appCfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		p := newProvisioner(appCfg.Token)
		outcome := p.Teardown(context.Background(), provision.TeardownRequest{
			SessionID:  teardownSessionID,
			ServerID:   teardownServerID,
			KeyID:      teardownKeyID,
			KeyCleanup: keymanager.CleanupStrategy(teardownKeyCleanup),
		})

		printJSON(outcome)
		if !outcome.Verified {
			logging.Logger().Warn("Teardown did not verify deletion",
				zap.Int64("server_id", teardownServerID),
				zap.Int("attempts", outcome.Attempts))
		}
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)

	teardownCmd.Flags().Int64Var(&teardownServerID, "server-id", 0, "Instance id to delete (required)")
	teardownCmd.Flags().StringVar(&teardownSessionID, "session-id", "", "Shell session id to stop")
	teardownCmd.Flags().Int64Var(&teardownKeyID, "key-id", 0, "SSH key id to release")
	teardownCmd.Flags().StringVar(&teardownKeyCleanup, "key-cleanup", "", "Key cleanup strategy: none, ephemeral or shared")
	if err := teardownCmd.MarkFlagRequired("server-id"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
