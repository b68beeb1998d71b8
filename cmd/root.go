// Copyright 2026 CleverData
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cleverdata/cloud-courier/internal/config"
)

var cfgFile string
var Version = "0.1.0" // Default version, overridden at build time

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cloud-courier",
	Short: "Cloud Courier host agent",
	Long: `Cloud Courier watches local folders on lab and field computers and uploads
new files to S3 exactly once, keeping a local ledger of completed uploads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// usageError marks failures caused by bad arguments or settings.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	var ue usageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	return ExitFailure
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is config.yaml next to the executable, in %PROGRAMDATA%\\CloudCourier or $HOME)")
	pf.String("aws-region", "", "AWS region of the fleet")
	pf.Bool("use-generic-credentials", false, "use the default AWS credential chain instead of the SSM credentials file")
	pf.String("credentials-path", config.DefaultCredentialsPath(), "credentials file kept up to date by the SSM agent")
	pf.String("ledger-path", config.DefaultLedgerPath(), "file recording completed uploads")
	pf.String("log-level", "INFO", "DEBUG, INFO, WARNING or ERROR")
	pf.String("log-folder", "logs", "folder for the daily log files")
	pf.Bool("no-console-logging", false, "only log to files")

	bindFlags(pf, map[string]string{
		"aws_region":              "aws-region",
		"use_generic_credentials": "use-generic-credentials",
		"credentials_path":        "credentials-path",
		"ledger_path":             "ledger-path",
		"log_level":               "log-level",
		"log_folder":              "log-folder",
		"no_console_logging":      "no-console-logging",
	})
}

// bindFlags ties settings keys to flag names.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 1. Next to the executable
		exePath, err := os.Executable()
		if err == nil {
			viper.AddConfigPath(filepath.Dir(exePath))
		}

		// 2. Global ProgramData, where the Windows service looks
		programData := os.Getenv("PROGRAMDATA")
		if programData != "" {
			viper.AddConfigPath(filepath.Join(programData, "CloudCourier"))
		}

		// 3. Home directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}

		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CLOUD_COURIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		viper.SetConfigFile(viper.ConfigFileUsed())
	}
}

// loadSettings merges flags, environment and config file.
func loadSettings() (config.Settings, error) {
	var s config.Settings
	if err := viper.Unmarshal(&s); err != nil {
		return s, usageError{fmt.Errorf("invalid settings: %w", err)}
	}
	return s, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cloud-courier v%s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
