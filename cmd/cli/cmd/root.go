package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldctl",
	Short: "fieldctl is a command line tool for the fieldtasks rendering service",
	Long: `fieldctl is the command-line interface for fieldtasks, the service that renders
atlas pages and indexes, merges atlases, georeferences page PDFs and decodes
scanned snapshots.

Tasks are accepted asynchronously: the service answers with a job id and later
PATCHes the result to the payload's callback_url.

Common workflows:

  Render a page:
    fieldctl submit render_page --payload page.json

  Override the callback of a stored payload:
    fieldctl submit merge_pages --payload atlas.json --callback-url http://localhost:3000/atlases/abc

  Check a job:
    fieldctl status <job-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    FIELDTASKS_URL      API endpoint (default: http://localhost:8080)
    FIELDTASKS_TOKEN    API token, when the service requires one`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".fieldctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".fieldctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "FIELDTASKS_VARNAME"
	viper.SetEnvPrefix("FIELDTASKS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fieldctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "fieldtasks service URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
