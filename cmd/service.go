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
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cleverdata/cloud-courier/internal/config"
)

const (
	serviceName = "CloudCourier"
	stopTimeout = 30 * time.Second
)

// program implements the service.Interface
type program struct {
	settings  config.Settings
	svcLogger service.Logger

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

func (p *program) run(ctx context.Context) {
	defer close(p.done)
	p.err = RunAgent(ctx, p.settings, p.svcLogger)
	if ctx.Err() == nil {
		// Stopped on its own (stop flag or failure), not by the service manager.
		code := ExitOK
		if p.err != nil {
			code = ExitFailure
		}
		os.Exit(code)
	}
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("agent did not stop within %s", stopTimeout)
	}
}

func serviceConfig(configPath string) *service.Config {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:        serviceName,
		DisplayName: "Cloud Courier",
		Description: "Watches configured folders and uploads new files to S3.",
		Arguments:   args,
	}
}

func getService(prg *program, configPath string) (service.Service, error) {
	return service.New(prg, serviceConfig(configPath))
}

// controlService runs one of service.ControlAction against the installed service.
func controlService(cmd *cobra.Command, action, doing, done string) error {
	s, err := getService(&program{}, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Cloud Courier Service...\n", doing)
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %s.\n", done)
	return nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the agent as an OS service",
	Long: `Installs the agent as a service that runs 'cloud-courier run' with the
config file currently in use. aws_region and stop_flag_dir must be set in it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Find current config file to pass to the service
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			return usageError{fmt.Errorf("no config file found, create config.yaml with aws_region and stop_flag_dir first")}
		}
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		if err := settings.Validate(); err != nil {
			return usageError{err}
		}

		s, err := getService(&program{}, configPath)
		if err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}

		out := cmd.OutOrStdout()
		// Check if already installed
		if status, err := s.Status(); err == nil {
			fmt.Fprintf(out, "Cloud Courier is already installed (%s).\n", statusString(status))
			fmt.Fprintln(out, "Use 'cloud-courier restart' to apply config changes, or 'cloud-courier uninstall' to remove it.")
			return nil
		}

		fmt.Fprintln(out, "Installing Cloud Courier Service...")
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install (are you running as Administrator?): %w", err)
		}
		fmt.Fprintln(out, "Service installed successfully.")

		fmt.Fprintln(out, "Starting service...")
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		fmt.Fprintln(out, "Service started.")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the agent service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService(&program{}, "")
		if err != nil {
			return err
		}
		// It might not be running.
		_ = s.Stop()

		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Service uninstalled.")
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlService(cmd, "start", "Starting", "started")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the agent service",
	Long:  `Stops the service through the service manager. Dropping a file into the stop flag folder stops the agent as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlService(cmd, "stop", "Stopping", "stopped")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the agent service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlService(cmd, "restart", "Restarting", "restarted")
	},
}

func statusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Running"
	case service.StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the agent service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService(&program{}, "")
		if err != nil {
			return err
		}
		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("could not get status: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cloud Courier Service Status: %s\n", statusString(status))
		return nil
	},
}

// scConfig sets the Windows start type of the service.
func scConfig(startType string) error {
	return exec.Command("sc", "config", serviceName, "start=", startType).Run()
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start the agent service automatically with Windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "Enabling Cloud Courier Service (Automatic Start)...")
		if err := scConfig("auto"); err != nil {
			return fmt.Errorf("failed to enable: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Service enabled for automatic start.")
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop the agent service and only start it manually",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService(&program{}, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stopping Cloud Courier Service...")
		_ = s.Stop()

		fmt.Fprintln(cmd.OutOrStdout(), "Disabling Cloud Courier Service (Manual Start Only)...")
		if err := scConfig("demand"); err != nil {
			return fmt.Errorf("failed to disable: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Service disabled.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}
