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
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cleverdata/cloud-courier/internal/ledger"
)

var ledgerFilter string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the record of completed uploads",
	Long: `The ledger is an append-only tab-separated file. A file listed in it is never
uploaded again, even if its content changes.`,
}

var ledgerPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the location of the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), settings.LedgerPath)
		return nil
	},
}

var ledgerListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List completed uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		l := ledger.New(afero.NewOsFs(), settings.LedgerPath)
		exists, err := afero.Exists(afero.NewOsFs(), settings.LedgerPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !exists {
			fmt.Fprintf(out, "No uploads recorded yet (%s does not exist).\n", settings.LedgerPath)
			return nil
		}

		entries, err := l.Entries()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-50s %-36s %s\n", "FILE", "CHECKSUM", "CLOUD PATH")
		fmt.Fprintln(out, strings.Repeat("-", 120))
		n := 0
		for _, e := range entries {
			if ledgerFilter != "" && !strings.Contains(e.LocalPath, ledgerFilter) {
				continue
			}
			fmt.Fprintf(out, "%-50s %-36s %s\n", e.LocalPath, e.Checksum, e.RemotePath)
			n++
		}
		fmt.Fprintf(out, "%d upload(s)\n", n)
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVarP(&ledgerFilter, "filter", "f", "", "only list files whose path contains this text")
	ledgerCmd.AddCommand(ledgerPathCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}
