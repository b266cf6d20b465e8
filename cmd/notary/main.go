package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notary",
	Short: "Audit notarization toolkit",
	Long: `notary computes and checks the integrity evidence of completed audits.

The offline commands (hash, memo, verify) need nothing but the published
payload. fetch-verify downloads the payload first; check asks a running
auditd to re-verify a stored audit.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditnotary")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("NOTARY")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditnotary/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "auditd base URL (default http://localhost:8080)")

	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(memoCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(fetchVerifyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the notary version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "notary "+version)
	},
}
