package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	DefaultHeartbeatFrequencySeconds     = 60
	DefaultConfigRefreshFrequencyMinutes = 60
	DefaultFilePattern                   = "*"
)

// FolderWatchConfig describes one watched folder. It is decoded from the
// per-folder JSON blob stored in the parameter store and is never mutated
// after loading.
type FolderWatchConfig struct {
	FolderPath               string   `json:"folder_path" mapstructure:"folder_path"`
	Recursive                bool     `json:"recursive" mapstructure:"recursive"`
	FilePattern              string   `json:"file_pattern" mapstructure:"file_pattern"`
	IgnorePatterns           []string `json:"ignore_patterns" mapstructure:"ignore_patterns"`
	S3KeyPrefix              string   `json:"s3_key_prefix" mapstructure:"s3_key_prefix"`
	S3BucketName             string   `json:"s3_bucket_name" mapstructure:"s3_bucket_name"`
	DelaySecondsBeforeUpload float64  `json:"delay_seconds_before_upload" mapstructure:"delay_seconds_before_upload"`
}

// NewFolderWatchConfig returns a folder config with the defaults a JSON blob
// falls back to for omitted fields.
func NewFolderWatchConfig() FolderWatchConfig {
	return FolderWatchConfig{
		Recursive:   true,
		FilePattern: DefaultFilePattern,
	}
}

// Validate checks the required fields and the glob patterns.
func (f FolderWatchConfig) Validate() error {
	var errs []error
	if f.FolderPath == "" {
		errs = append(errs, errors.New("folder_path is required"))
	}
	if f.S3KeyPrefix == "" {
		errs = append(errs, errors.New("s3_key_prefix is required"))
	}
	if f.S3BucketName == "" {
		errs = append(errs, errors.New("s3_bucket_name is required"))
	}
	if f.DelaySecondsBeforeUpload < 0 {
		errs = append(errs, errors.New("delay_seconds_before_upload must not be negative"))
	}
	for _, p := range append([]string{f.FilePattern}, f.IgnorePatterns...) {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid pattern %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Delay is the debounce delay as a duration.
func (f FolderWatchConfig) Delay() time.Duration {
	return time.Duration(f.DelaySecondsBeforeUpload * float64(time.Second))
}

// Matches reports whether a file name passes file_pattern and none of the
// ignore_patterns. Only the base name is matched.
func (f FolderWatchConfig) Matches(path string) bool {
	name := filepath.Base(path)
	pattern := f.FilePattern
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if ok, _ := filepath.Match(pattern, name); !ok {
		return false
	}
	for _, p := range f.IgnorePatterns {
		if ok, _ := filepath.Match(p, name); ok {
			return false
		}
	}
	return true
}

// AppConfig holds agent-wide settings that come from the parameter store.
type AppConfig struct {
	HeartbeatFrequencySeconds     float64 `json:"heartbeat_frequency_seconds"`
	ConfigRefreshFrequencyMinutes int     `json:"config_refresh_frequency_minutes"`
}

func NewAppConfig() AppConfig {
	return AppConfig{
		HeartbeatFrequencySeconds:     DefaultHeartbeatFrequencySeconds,
		ConfigRefreshFrequencyMinutes: DefaultConfigRefreshFrequencyMinutes,
	}
}

// HeartbeatFrequency is the minimum time between two heartbeats.
func (a AppConfig) HeartbeatFrequency() time.Duration {
	return time.Duration(a.HeartbeatFrequencySeconds * float64(time.Second))
}

// CourierConfig is everything loaded once per boot.
type CourierConfig struct {
	FoldersToWatch map[string]FolderWatchConfig
	AppConfig      AppConfig
	RoleName       string
	AliasName      string
	Region         string
}
