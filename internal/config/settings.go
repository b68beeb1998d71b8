package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Settings are the local agent settings, read from flags, environment and
// the optional config.yaml through viper.
type Settings struct {
	AWSRegion                     string  `mapstructure:"aws_region"`
	StopFlagDir                   string  `mapstructure:"stop_flag_dir"`
	IdleLoopSleepSeconds          float64 `mapstructure:"idle_loop_sleep_seconds"`
	LogLevel                      string  `mapstructure:"log_level"`
	LogFolder                     string  `mapstructure:"log_folder"`
	NoConsoleLogging              bool    `mapstructure:"no_console_logging"`
	UseGenericCredentials         bool    `mapstructure:"use_generic_credentials"`
	CredentialsPath               string  `mapstructure:"credentials_path"`
	LedgerPath                    string  `mapstructure:"ledger_path"`
	HeartbeatURL                  string  `mapstructure:"heartbeat_url"`
	HeartbeatToken                string  `mapstructure:"heartbeat_token"`
	UploadBandwidthBytesPerSecond int     `mapstructure:"upload_bandwidth_bytes_per_second"`
	ImmediateShutDown             bool    `mapstructure:"immediate_shut_down"`
	ShutDownBeforeMainLoop        bool    `mapstructure:"shut_down_before_main_loop"`
}

const DefaultIdleLoopSleepSeconds = 5

// Validate reports settings the agent cannot start without.
func (s Settings) Validate() error {
	var errs []error
	if s.AWSRegion == "" {
		errs = append(errs, errors.New("--aws-region is required"))
	}
	if s.StopFlagDir == "" {
		errs = append(errs, errors.New("--stop-flag-dir is required"))
	}
	if s.IdleLoopSleepSeconds < 0 {
		errs = append(errs, errors.New("--idle-loop-sleep-seconds must not be negative"))
	}
	if s.UploadBandwidthBytesPerSecond < 0 {
		errs = append(errs, errors.New("upload_bandwidth_bytes_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

func (s Settings) IdleLoopSleep() time.Duration {
	return time.Duration(s.IdleLoopSleepSeconds * float64(time.Second))
}

// DefaultLedgerPath is where the upload ledger lives when ledger_path is unset.
// Windows: %PROGRAMDATA%\LabAutomationAndScreening\CloudCourier
// Others:  ~/.lab_automation_and_screening/cloud_courier
func DefaultLedgerPath() string {
	const name = "previously_uploaded_files.tsv"
	if runtime.GOOS == "windows" {
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "LabAutomationAndScreening", "CloudCourier", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".lab_automation_and_screening", "cloud_courier", name)
}

// DefaultCredentialsPath is the credential file the systems manager agent
// keeps rotated on the host.
func DefaultCredentialsPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\config\systemprofile\.aws\credentials`
	}
	return "/var/lib/amazon/ssm/credentials"
}
