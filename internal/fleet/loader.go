// Package fleet loads the per-boot agent configuration from the SSM
// parameter store and reports the installed agent version back to it.
//
// Parameters are laid out as:
//
//	/cloud-courier/role-aliases/<role name>     -> alias
//	/cloud-courier/<alias>/folders/<descriptor> -> FolderWatchConfig JSON
//	/cloud-courier/<alias>/app-config           -> AppConfig JSON (optional)
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cleverdata/cloud-courier/internal/config"
	"github.com/cleverdata/cloud-courier/internal/logging"
)

const ParameterRoot = "/cloud-courier"

// SSMAPI is the part of the SSM client the loader needs.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	AddTagsToResource(ctx context.Context, params *ssm.AddTagsToResourceInput, optFns ...func(*ssm.Options)) (*ssm.AddTagsToResourceOutput, error)
}

// STSAPI is the part of the STS client the loader needs.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var (
	_ SSMAPI = (*ssm.Client)(nil)
	_ STSAPI = (*sts.Client)(nil)
)

// ConfigLoadError aborts a boot. Descriptor names the offending folder
// definition, or is empty when the problem is not tied to one folder.
type ConfigLoadError struct {
	Descriptor string
	Err        error
}

func (e *ConfigLoadError) Error() string {
	if e.Descriptor == "" {
		return fmt.Sprintf("failed to load configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid folder configuration %q: %v", e.Descriptor, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// RoleNameFromARN extracts the IAM role name from a caller ARN.
//
//	arn:aws:sts::123:assumed-role/<role>/<session> -> <role>
//	arn:aws:iam::123:role/path/<role>              -> <role>
func RoleNameFromARN(arn string) string {
	resource := arn
	if i := strings.LastIndex(arn, ":"); i >= 0 {
		resource = arn[i+1:]
	}
	parts := strings.Split(resource, "/")
	if parts[0] == "assumed-role" && len(parts) >= 3 {
		return parts[1]
	}
	return parts[len(parts)-1]
}

// AliasParameter is the name of the parameter mapping a role to its alias.
func AliasParameter(roleName string) string {
	return path.Join(ParameterRoot, "role-aliases", roleName)
}

// FoldersPath is the parameter path holding an alias's folder definitions.
func FoldersPath(alias string) string {
	return path.Join(ParameterRoot, alias, "folders") + "/"
}

func AppConfigParameter(alias string) string {
	return path.Join(ParameterRoot, alias, "app-config")
}

// Loader reads CourierConfig from the parameter store.
type Loader struct {
	ssm    SSMAPI
	sts    STSAPI
	region string
	logger logging.Logger
}

func NewLoader(ssmClient SSMAPI, stsClient STSAPI, region string, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{ssm: ssmClient, sts: stsClient, region: region, logger: logger}
}

// CallerARN returns the ARN of the credentials in use.
func (l *Loader) CallerARN(ctx context.Context) (string, error) {
	out, err := l.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}

// Load resolves the role alias and reads every folder definition plus the
// optional app config. Any invalid folder definition fails the whole load.
func (l *Loader) Load(ctx context.Context) (config.CourierConfig, error) {
	arn, err := l.CallerARN(ctx)
	if err != nil {
		return config.CourierConfig{}, err
	}
	role := RoleNameFromARN(arn)

	alias, found, err := l.getParameter(ctx, AliasParameter(role))
	if err != nil {
		return config.CourierConfig{}, &ConfigLoadError{Err: err}
	}
	if !found {
		return config.CourierConfig{}, &ConfigLoadError{
			Err: fmt.Errorf("no alias for role %q: parameter %s does not exist", role, AliasParameter(role)),
		}
	}
	l.logger.Infof("role %s uses configuration alias %s", role, alias)

	folders, err := l.loadFolders(ctx, alias)
	if err != nil {
		return config.CourierConfig{}, err
	}

	app, err := l.loadAppConfig(ctx, alias)
	if err != nil {
		return config.CourierConfig{}, err
	}

	return config.CourierConfig{
		FoldersToWatch: folders,
		AppConfig:      app,
		RoleName:       role,
		AliasName:      alias,
		Region:         l.region,
	}, nil
}

func (l *Loader) loadFolders(ctx context.Context, alias string) (map[string]config.FolderWatchConfig, error) {
	folders := map[string]config.FolderWatchConfig{}
	p := ssm.NewGetParametersByPathPaginator(l.ssm, &ssm.GetParametersByPathInput{
		Path:           aws.String(FoldersPath(alias)),
		WithDecryption: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, &ConfigLoadError{Err: fmt.Errorf("list %s: %w", FoldersPath(alias), err)}
		}
		for _, param := range page.Parameters {
			descriptor := path.Base(aws.ToString(param.Name))
			folder, err := ParseFolder([]byte(aws.ToString(param.Value)))
			if err != nil {
				return nil, &ConfigLoadError{Descriptor: descriptor, Err: err}
			}
			folders[descriptor] = folder
		}
	}
	if len(folders) == 0 {
		return nil, &ConfigLoadError{Err: fmt.Errorf("no folders configured under %s", FoldersPath(alias))}
	}
	return folders, nil
}

func (l *Loader) loadAppConfig(ctx context.Context, alias string) (config.AppConfig, error) {
	app := config.NewAppConfig()
	raw, found, err := l.getParameter(ctx, AppConfigParameter(alias))
	if err != nil {
		return app, &ConfigLoadError{Err: err}
	}
	if !found {
		l.logger.Infof("no app config at %s, using defaults", AppConfigParameter(alias))
		return app, nil
	}
	if err := json.Unmarshal([]byte(raw), &app); err != nil {
		return app, &ConfigLoadError{Err: fmt.Errorf("decode %s: %w", AppConfigParameter(alias), err)}
	}
	if app.HeartbeatFrequencySeconds <= 0 {
		return app, &ConfigLoadError{Err: errors.New("heartbeat_frequency_seconds must be positive")}
	}
	return app, nil
}

// ParseFolder decodes one folder definition on top of the defaults and
// validates it.
func ParseFolder(raw []byte) (config.FolderWatchConfig, error) {
	folder := config.NewFolderWatchConfig()
	if err := json.Unmarshal(raw, &folder); err != nil {
		return folder, fmt.Errorf("decode: %w", err)
	}
	if err := folder.Validate(); err != nil {
		return folder, err
	}
	return folder, nil
}

func (l *Loader) getParameter(ctx context.Context, name string) (value string, found bool, err error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", false, nil
	}
	return aws.ToString(out.Parameter.Value), true, nil
}
