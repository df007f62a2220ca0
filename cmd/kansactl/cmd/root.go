package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the command tree over v. Flags bound to v may also be set
// through KANSACTL_* environment variables or a config file.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "kansactl",
		Short: "kansactl is a command line tool for the Kansa assessment service",
		Long: `kansactl talks to a kansad server to manage tenants and drive
assessment and inventory runs.

Common workflows:

  Register a tenant:
    kansactl tenants create --name Contoso --directory-id dir-1 --client-id app --client-secret s3cret

  Assess every domain and follow progress:
    kansactl runs start <tenant-id> --watch

  Snapshot users and groups, then diff against the previous snapshot:
    kansactl runs start <tenant-id> --kind inventory --domain Users --domain Groups
    kansactl drift <run-id>

Configuration:
  KANSACTL_SERVER    API endpoint (default: http://localhost:8080)
  KANSACTL_TIMEOUT   request timeout (default: 30s)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kansactl.yaml)")
	root.PersistentFlags().String("server", "http://localhost:8080", "Kansa server URL")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().StringP("output", "o", "text", "output format: text|json")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	_ = v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	root.AddCommand(newTenantsCmd(v), newRunsCmd(v), newFindingsCmd(v), newDriftCmd(v))
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd(viper.New()).Execute()
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("KANSACTL")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home)
	v.SetConfigName(".kansactl")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func clientFrom(v *viper.Viper) *Client {
	return NewClient(v.GetString("server"), v.GetDuration("timeout"))
}

// printJSON writes v indented to cmd's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON(v *viper.Viper) bool {
	return v.GetString("output") == "json"
}
