package cmd

import (
	"context"
	"fmt"
	"time"

	"jido/internal/cloudapi"
	"jido/internal/config"
	"jido/internal/control"
	"jido/internal/keymanager"
	"jido/internal/logging"
	"jido/internal/provision"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var smokeCommand string

// smokeCmd represents the smoke command
var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Provision a throwaway instance, run a command, tear it down",
	Long: `End-to-end smoke test against the real provider: provision an instance
under a generated workspace id, run a probe command over the session, then
tear everything down and report the outcome.`,
	Run: func(cmd *cobra.Command, args []string) {
		appCfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		cfg, err := appCfg.Resolve(config.Overrides{KeyStrategy: config.StrategyEphemeral})
		if err != nil {
			logging.Logger().Fatal("Failed to resolve configuration", zap.Error(err))
		}

		workspaceID := "smoke-" + uuid.NewString()[:8]
		api := cloudapi.New(cfg.Token)
		agent := control.NewSSHAgent()
		p := provision.New(api, keymanager.NewManager(api), agent, control.SSHDialer{})

		result, err := p.Provision(context.Background(), workspaceID, cfg, logProgress)
		if err != nil {
			logging.Logger().Fatal("Smoke provisioning failed", zap.Error(err))
		}

		output, runErr := agent.Run(result.SessionID, smokeCommand, 30*time.Second)
		if runErr != nil {
			logging.Logger().Error("Smoke command failed", zap.Error(runErr))
		} else {
			fmt.Printf("%s\n", output)
		}

		outcome := p.Teardown(context.Background(), provision.TeardownRequest{
			SessionID:  result.SessionID,
			ServerID:   result.ServerID,
			KeyID:      result.KeyID,
			KeyCleanup: result.KeyCleanup,
		})
		printJSON(outcome)

		if runErr != nil || !outcome.Verified {
			logging.Logger().Fatal("Smoke test failed",
				zap.Bool("teardown_verified", outcome.Verified),
				zap.Error(runErr))
		}
	},
}

func init() {
	rootCmd.AddCommand(smokeCmd)

	smokeCmd.Flags().StringVar(&smokeCommand, "command", "uname -a", "Probe command to run on the instance")
}
