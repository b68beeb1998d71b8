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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cleverdata/cloud-courier/internal/awsauth"
	"github.com/cleverdata/cloud-courier/internal/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the agent configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch and print the folder configuration for this machine",
	Long: `Resolves the role of the current credentials to its alias and prints the
folder and app configuration the agent would load at boot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		if settings.AWSRegion == "" {
			return usageError{errors.New("--aws-region is required")}
		}

		awsCfg, err := awsauth.LoadConfig(cmd.Context(), awsauth.Options{
			Region:                settings.AWSRegion,
			UseGenericCredentials: settings.UseGenericCredentials,
			CredentialsPath:       settings.CredentialsPath,
		})
		if err != nil {
			return err
		}
		cfg, err := newLoader(awsCfg, settings, logging.Nop()).Load(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Role:  %s\nAlias: %s\n", cfg.RoleName, cfg.AliasName)
		fmt.Fprintf(out, "Heartbeat every %s, config refresh every %d min\n\n",
			cfg.AppConfig.HeartbeatFrequency(), cfg.AppConfig.ConfigRefreshFrequencyMinutes)

		descriptors := make([]string, 0, len(cfg.FoldersToWatch))
		for d := range cfg.FoldersToWatch {
			descriptors = append(descriptors, d)
		}
		sort.Strings(descriptors)
		for _, d := range descriptors {
			raw, err := json.MarshalIndent(cfg.FoldersToWatch[d], "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s:\n%s\n", d, raw)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
