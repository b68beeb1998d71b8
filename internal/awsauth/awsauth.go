// Package awsauth builds the AWS configuration the agent runs with.
//
// On managed instances the SSM agent writes short-lived credentials to a
// well-known file and rotates them roughly every 30 minutes. FileProvider
// re-reads that file whenever the SDK asks for fresh credentials.
package awsauth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/jonboulle/clockwork"

	"github.com/cleverdata/cloud-courier/internal/logging"
)

const (
	DefaultProfile = "default"
	// CredentialsLifetime is reported as the expiry of every read. It is
	// shorter than the rotation period of the file.
	CredentialsLifetime = 25 * time.Minute
	providerSource      = "CloudCourierCredentialsFile"
)

// FileProvider reads a profile from a shared-credentials style INI file.
type FileProvider struct {
	Path    string
	Profile string
	Clock   clockwork.Clock
	Logger  logging.Logger
}

var _ aws.CredentialsProvider = (*FileProvider)(nil)

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		Path:    path,
		Profile: DefaultProfile,
		Clock:   clockwork.NewRealClock(),
		Logger:  logging.Nop(),
	}
}

func (p *FileProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	p.Logger.Debugf("reading AWS credentials from %s", p.Path)
	shared, err := config.LoadSharedConfigProfile(ctx, p.Profile, func(o *config.LoadSharedConfigOptions) {
		o.CredentialsFiles = []string{p.Path}
		o.ConfigFiles = []string{}
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("read profile %q from %s: %w", p.Profile, p.Path, err)
	}

	creds := shared.Credentials
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return aws.Credentials{}, fmt.Errorf("profile %q in %s has no access key", p.Profile, p.Path)
	}
	if creds.SessionToken == "" {
		return aws.Credentials{}, fmt.Errorf("profile %q in %s has no session token", p.Profile, p.Path)
	}

	return aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          providerSource,
		CanExpire:       true,
		Expires:         p.Clock.Now().Add(CredentialsLifetime),
	}, nil
}

// Options selects how LoadConfig finds credentials.
type Options struct {
	Region string
	// UseGenericCredentials uses the SDK default chain (environment, shared
	// config, instance role) instead of the credentials file.
	UseGenericCredentials bool
	CredentialsPath       string
	MaxAttempts           int
	Logger                logging.Logger
}

// LoadConfig returns the AWS configuration for all clients of the agent.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewAdaptiveMode(func(o *retry.AdaptiveModeOptions) {
				o.StandardOptions = append(o.StandardOptions, func(so *retry.StandardOptions) {
					so.MaxAttempts = maxAttempts
				})
			})
		}),
	}

	if !opts.UseGenericCredentials {
		provider := NewFileProvider(opts.CredentialsPath)
		if opts.Logger != nil {
			provider.Logger = opts.Logger
		}
		// Fail at startup rather than on the first API call.
		if _, err := provider.Retrieve(ctx); err != nil {
			return aws.Config{}, err
		}
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
