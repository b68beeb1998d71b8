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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jonboulle/clockwork"
	"github.com/kardianos/service"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cleverdata/cloud-courier/internal/awsauth"
	"github.com/cleverdata/cloud-courier/internal/config"
	"github.com/cleverdata/cloud-courier/internal/core"
	"github.com/cleverdata/cloud-courier/internal/fleet"
	"github.com/cleverdata/cloud-courier/internal/heartbeat"
	"github.com/cleverdata/cloud-courier/internal/ledger"
	"github.com/cleverdata/cloud-courier/internal/logging"
	"github.com/cleverdata/cloud-courier/internal/storage"
)

// RunAgent is the entry point for the long-running process. svcLogger is
// the platform service log when running under the service manager.
func RunAgent(ctx context.Context, settings config.Settings, svcLogger service.Logger) (err error) {
	if err := settings.Validate(); err != nil {
		return usageError{err}
	}
	fileLogger, err := logging.New(logging.Options{
		Level:            settings.LogLevel,
		Folder:           settings.LogFolder,
		FilenamePrefix:   "cloud-courier-",
		NoConsoleLogging: settings.NoConsoleLogging,
	})
	if err != nil {
		return usageError{err}
	}
	defer fileLogger.Close()

	var log logging.Logger = fileLogger
	if svcLogger != nil {
		log = logging.Tee(fileLogger, logging.FromService(svcLogger))
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("An unhandled panic occurred: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	log.Infof(`Starting "cloud-courier" v%s`, Version)
	err = runAgent(ctx, settings, log)
	switch {
	case err == nil:
		log.Info("Shut down cleanly")
	case errors.Is(err, context.Canceled):
		log.Info("Stopped by request")
		err = nil
	default:
		log.Errorf("An unhandled error occurred: %+v", err)
	}
	return err
}

func runAgent(ctx context.Context, settings config.Settings, log logging.Logger) error {
	awsCfg, err := awsauth.LoadConfig(ctx, awsauth.Options{
		Region:                settings.AWSRegion,
		UseGenericCredentials: settings.UseGenericCredentials,
		CredentialsPath:       settings.CredentialsPath,
		Logger:                logging.Prefixed(log, "credentials"),
	})
	if err != nil {
		return err
	}
	if settings.ImmediateShutDown {
		log.Info("Exiting due to --immediate-shut-down")
		return nil
	}

	loader := newLoader(awsCfg, settings, log)
	arn, err := loader.CallerARN(ctx)
	if err != nil {
		return err
	}
	log.Infof("Connected to AWS as: %s", arn)
	if err := loader.TagInstance(ctx, fleet.RoleNameFromARN(arn), "v"+Version); err != nil {
		return err
	}
	if settings.ShutDownBeforeMainLoop {
		log.Info("Exiting due to --shut-down-before-main-loop")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(settings.LedgerPath), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	lock, err := ledger.Lock(settings.LedgerPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warningf("failed to release %s: %v", lock.Path(), err)
		}
	}()

	clock := clockwork.NewRealClock()
	fs := afero.NewOsFs()

	sinks := []heartbeat.Sink{heartbeat.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg))}
	if settings.HeartbeatURL != "" {
		sinks = append(sinks, heartbeat.NewHTTPSink(settings.HeartbeatURL, settings.HeartbeatToken))
	}

	ctrl, err := core.New(core.Options{
		Loader: loader,
		Uploader: storage.NewUploader(s3.NewFromConfig(awsCfg),
			storage.WithBandwidth(settings.UploadBandwidthBytesPerSecond),
			storage.WithLogger(log)),
		Ledger:        ledger.New(fs, settings.LedgerPath),
		Heartbeat:     heartbeat.NewEmitter(clock, logging.Prefixed(log, "heartbeat"), sinks...),
		StopFlagDir:   settings.StopFlagDir,
		IdleLoopSleep: settings.IdleLoopSleep(),
		Fs:            fs,
		Clock:         clock,
		Logger:        logging.Prefixed(log, "controller"),
	})
	if err != nil {
		return err
	}
	return ctrl.Run(ctx)
}

func newLoader(awsCfg aws.Config, settings config.Settings, log logging.Logger) *fleet.Loader {
	return fleet.NewLoader(ssm.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg),
		settings.AWSRegion, logging.Prefixed(log, "config"))
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Runs the agent directly. Usually invoked by the service manager.

The agent stops when any file appears in --stop-flag-dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		if service.Interactive() {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunAgent(ctx, settings, nil)
		}

		// When running as a service, we MUST call s.Run() to check-in with the service manager
		prg := &program{settings: settings}
		s, err := getService(prg, viper.ConfigFileUsed())
		if err != nil {
			return fmt.Errorf("failed to initialize service: %w", err)
		}
		if prg.svcLogger, err = s.Logger(nil); err != nil {
			return fmt.Errorf("failed to open service log: %w", err)
		}
		if err := s.Run(); err != nil {
			return err
		}
		return prg.err
	},
}

func init() {
	f := runCmd.Flags()
	f.String("stop-flag-dir", "", "any file appearing in this folder stops the agent")
	f.Float64("idle-loop-sleep-seconds", config.DefaultIdleLoopSleepSeconds, "pause between main loop iterations")
	f.Bool("immediate-shut-down", false, "exit right after loading credentials")
	f.Bool("shut-down-before-main-loop", false, "exit right before watching folders")
	f.String("heartbeat-url", "", "also send heartbeats to this URL")
	f.String("heartbeat-token", "", "bearer token for --heartbeat-url")
	f.Int("upload-bandwidth", 0, "upload limit in bytes per second, 0 for unlimited")

	bindFlags(f, map[string]string{
		"stop_flag_dir":                     "stop-flag-dir",
		"idle_loop_sleep_seconds":           "idle-loop-sleep-seconds",
		"immediate_shut_down":               "immediate-shut-down",
		"shut_down_before_main_loop":        "shut-down-before-main-loop",
		"heartbeat_url":                     "heartbeat-url",
		"heartbeat_token":                   "heartbeat-token",
		"upload_bandwidth_bytes_per_second": "upload-bandwidth",
	})
	rootCmd.AddCommand(runCmd)
}
