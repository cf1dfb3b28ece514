package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"jido/internal/cloudapi"
	"jido/internal/config"
	"jido/internal/control"
	"jido/internal/keymanager"
	"jido/internal/logging"
	"jido/internal/provision"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	provisionServerType    string
	provisionImage         string
	provisionRegion        string
	provisionKeyStrategy   string
	provisionKeyName       string
	provisionKeyID         int64
	provisionWorkspaceBase string
	provisionUserData      string
)

// provisionCmd represents the provision command
var provisionCmd = &cobra.Command{
	Use:   "provision <workspace-id>",
	Short: "Provision an instance and start a shell session",
	Long: `Provision a cloud instance for a workspace: secure an SSH key, create
the instance, wait until it is running and reachable over SSH, start a
shell session and create the workspace directory. The result printed on
stdout is the handle needed for a later teardown.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workspaceID := args[0]

		appCfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		cfg, err := appCfg.Resolve(config.Overrides{
			ServerType:    provisionServerType,
			Image:         provision.ImageRef(provisionImage),
			Region:        provisionRegion,
			KeyStrategy:   provisionKeyStrategy,
			KeyName:       provisionKeyName,
			KeyID:         provisionKeyID,
			WorkspaceBase: provisionWorkspaceBase,
			UserData:      provisionUserData,
		})
		if err != nil {
			logging.Logger().Fatal("Failed to resolve configuration", zap.Error(err))
		}

		p := newProvisioner(cfg.Token)
		result, err := p.Provision(context.Background(), workspaceID, cfg, logProgress)
		if err != nil {
			logging.Logger().Fatal("Provisioning failed", zap.Error(err))
		}

		printJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().StringVar(&provisionServerType, "server-type", "", "Instance type (e.g. cx22)")
	provisionCmd.Flags().StringVar(&provisionImage, "image", "", "Image name or numeric snapshot id")
	provisionCmd.Flags().StringVar(&provisionRegion, "region", "", "Region/datacenter (e.g. fsn1)")
	provisionCmd.Flags().StringVar(&provisionKeyStrategy, "key-strategy", "", "SSH key strategy: shared, ephemeral or existing")
	provisionCmd.Flags().StringVar(&provisionKeyName, "key-name", "", "Name of the shared SSH key")
	provisionCmd.Flags().Int64Var(&provisionKeyID, "key-id", 0, "Key id for the existing strategy")
	provisionCmd.Flags().StringVar(&provisionWorkspaceBase, "workspace-base", "", "Base directory for workspaces on the instance")
	provisionCmd.Flags().StringVar(&provisionUserData, "user-data", "", "Boot-time user data")
}

// newProvisioner wires the real collaborators behind a Provisioner
func newProvisioner(token string) *provision.Provisioner {
	api := cloudapi.New(token)
	keys := keymanager.NewManager(api)
	return provision.New(api, keys, control.NewSSHAgent(), control.SSHDialer{})
}

// logProgress reports pipeline transitions through the logger
func logProgress(stage provision.Stage, meta map[string]string) {
	fields := make([]zap.Field, 0, len(meta)+1)
	fields = append(fields, zap.String("stage", string(stage)))
	for k, v := range meta {
		fields = append(fields, zap.String(k, v))
	}
	logging.Logger().Info("Provisioning stage", fields...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
	}
}
