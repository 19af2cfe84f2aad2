package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vyvo/appsvcbuild/pkg/client"
	"github.com/vyvo/appsvcbuild/pkg/config"
)

var (
	serverURL   string
	functionKey string
)

var rootCmd = &cobra.Command{
	Use:   "appsvcbuildctl",
	Short: "Submit and inspect blessed image builds",
	Long: `appsvcbuildctl talks to the appsvcbuild service.

The server URL and function key can also be set with APPSVCBUILD_SERVER_URL
and APPSVCBUILD_FUNCTION_KEY.`,
	SilenceUsage:      true,
	PersistentPreRunE: bindEnv,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "appsvcbuild service URL")
	rootCmd.PersistentFlags().StringVar(&functionKey, "key", "", "function key of the service")
}

// bindEnv fills flags the user did not set from the environment.
func bindEnv(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlag("server_url", cmd.Root().PersistentFlags().Lookup("server")); err != nil {
		return err
	}
	if err := v.BindPFlag("function_key", cmd.Root().PersistentFlags().Lookup("key")); err != nil {
		return err
	}
	serverURL = v.GetString("server_url")
	functionKey = v.GetString("function_key")
	return nil
}

func newClient() *client.Client {
	return client.NewClient(serverURL, functionKey)
}
