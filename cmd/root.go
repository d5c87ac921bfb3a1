package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veilsec/azrbac/internal/message"
	"github.com/veilsec/azrbac/pkg/export"
)

var (
	cfgFile string
	quiet   bool
	noColor bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "azrbac",
	Short: "azrbac exports Azure RBAC role definitions and assignments across a tenant.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		message.SetQuiet(quiet)
		message.SetNoColor(noColor)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); the returned exit code maps
// the run outcome (0 success, 1 fatal, 2 safety gate or warnings).
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return export.ExitOK
	}

	var usageErr *export.UsageError
	if errors.As(err, &usageErr) {
		message.Error("%s", usageErr.Error())
		return export.ExitSafety
	}
	var exitErr *export.ExitError
	if errors.As(err, &exitErr) {
		message.Error("%s", exitErr.Error())
		return exitErr.Code
	}
	message.Error("%s", err.Error())
	return export.ExitFatal
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.azrbac.yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress user messages")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".azrbac" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".azrbac")
	}

	viper.SetEnvPrefix("AZRBAC")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
