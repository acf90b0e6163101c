package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/roombot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "roombot",
	Short: "Voice bot lifecycle orchestrator",
	Long: `Roombot launches voice bots into video call rooms, either as local
worker processes or on remote machines, tracks their status, and allows
at most one bot per room at a time.

Run "roombot serve" to start the HTTP control plane. The other commands
are clients for a running server.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/roombot/config.yaml)")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	rootCmd.PersistentFlags().String("server", "", "URL of a running roombot server (default from server.url)")
	rootCmd.PersistentFlags().String("api-key", "", "bearer token for the server (env ROOMBOT_API_KEY)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func initConfig() {
	// Variables from .env must be in the process environment before viper
	// and the worker passthrough read it
	if _, err := config.LoadDotEnv(viper.GetStringSlice("env_file")...); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/roombot")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROOMBOT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ROOMBOT_SERVER_PORT for server.port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
