package fleet

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleverdata/cloud-courier/internal/config"
)

const callerARN = "arn:aws:sts::123456789012:assumed-role/lab-pc-07/mi-0123456789abcdef0"

type fakeSTS struct {
	arn string
	err error
}

func (f *fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Arn: aws.String(f.arn)}, nil
}

type fakeSSM struct {
	params    map[string]string
	instances []ssmtypes.InstanceInformation
	tags      map[string][]ssmtypes.Tag
	pageCalls int
	getErr    error
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{params: map[string]string{}, tags: map[string][]ssmtypes.Tag{}}
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

// GetParametersByPath returns one parameter per page.
func (f *fakeSSM) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.pageCalls++
	var names []string
	for name := range f.params {
		rest, ok := strings.CutPrefix(name, aws.ToString(in.Path))
		if ok && !strings.Contains(rest, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start := 0
	if in.NextToken != nil {
		start, _ = strconv.Atoi(*in.NextToken)
	}
	out := &ssm.GetParametersByPathOutput{}
	if start < len(names) {
		out.Parameters = []ssmtypes.Parameter{{Name: aws.String(names[start]), Value: aws.String(f.params[names[start]])}}
	}
	if start+1 < len(names) {
		out.NextToken = aws.String(strconv.Itoa(start + 1))
	}
	return out, nil
}

func (f *fakeSSM) DescribeInstanceInformation(_ context.Context, in *ssm.DescribeInstanceInformationInput, _ ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error) {
	return &ssm.DescribeInstanceInformationOutput{InstanceInformationList: f.instances}, nil
}

func (f *fakeSSM) AddTagsToResource(_ context.Context, in *ssm.AddTagsToResourceInput, _ ...func(*ssm.Options)) (*ssm.AddTagsToResourceOutput, error) {
	if in.ResourceType != ssmtypes.ResourceTypeForTaggingManagedInstance {
		return nil, errors.New("unexpected resource type")
	}
	id := aws.ToString(in.ResourceId)
	f.tags[id] = append(f.tags[id], in.Tags...)
	return &ssm.AddTagsToResourceOutput{}, nil
}

const folderJSON = `{"folder_path": "C:\\Instrument\\Exports", "s3_key_prefix": "flow-cytometer", "s3_bucket_name": "lab-raw-data"}`

func seeded() *fakeSSM {
	f := newFakeSSM()
	f.params["/cloud-courier/role-aliases/lab-pc-07"] = "cytometer-1"
	f.params["/cloud-courier/cytometer-1/folders/exports"] = folderJSON
	f.params["/cloud-courier/cytometer-1/folders/archive"] = `{"folder_path": "/archive", "recursive": false,
		"file_pattern": "*.fcs", "ignore_patterns": ["~*"], "s3_key_prefix": "archive", "s3_bucket_name": "lab-raw-data",
		"delay_seconds_before_upload": 2.5}`
	return f
}

func TestRoleNameFromARN(t *testing.T) {
	tests := []struct{ arn, want string }{
		{callerARN, "lab-pc-07"},
		{"arn:aws:iam::123456789012:role/service/lab-pc-08", "lab-pc-08"},
		{"arn:aws:iam::123456789012:user/someone", "someone"},
		{"lab-pc-09", "lab-pc-09"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoleNameFromARN(tt.arn), tt.arn)
	}
}

func TestLoad(t *testing.T) {
	client := seeded()
	cfg, err := NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "lab-pc-07", cfg.RoleName)
	assert.Equal(t, "cytometer-1", cfg.AliasName)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, config.NewAppConfig(), cfg.AppConfig)
	assert.GreaterOrEqual(t, client.pageCalls, 2, "all pages are read")

	require.Len(t, cfg.FoldersToWatch, 2)
	exports := cfg.FoldersToWatch["exports"]
	assert.Equal(t, `C:\Instrument\Exports`, exports.FolderPath)
	assert.True(t, exports.Recursive)
	assert.Equal(t, "*", exports.FilePattern)
	assert.Zero(t, exports.DelaySecondsBeforeUpload)

	archive := cfg.FoldersToWatch["archive"]
	assert.False(t, archive.Recursive)
	assert.Equal(t, "*.fcs", archive.FilePattern)
	assert.Equal(t, []string{"~*"}, archive.IgnorePatterns)
	assert.Equal(t, 2.5, archive.DelaySecondsBeforeUpload)
}

func TestLoadAppConfig(t *testing.T) {
	client := seeded()
	client.params["/cloud-courier/cytometer-1/app-config"] = `{"heartbeat_frequency_seconds": 0.5}`

	cfg, err := NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.AppConfig.HeartbeatFrequencySeconds)
	assert.Equal(t, config.DefaultConfigRefreshFrequencyMinutes, cfg.AppConfig.ConfigRefreshFrequencyMinutes)
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*fakeSSM)
		descriptor string
		contains   string
	}{
		{
			name:     "missing alias",
			mutate:   func(f *fakeSSM) { delete(f.params, "/cloud-courier/role-aliases/lab-pc-07") },
			contains: "no alias",
		},
		{
			name:       "malformed folder",
			mutate:     func(f *fakeSSM) { f.params["/cloud-courier/cytometer-1/folders/broken"] = `{"folder_path": ` },
			descriptor: "broken",
		},
		{
			name: "folder missing bucket",
			mutate: func(f *fakeSSM) {
				f.params["/cloud-courier/cytometer-1/folders/nobucket"] = `{"folder_path": "/x", "s3_key_prefix": "p"}`
			},
			descriptor: "nobucket",
			contains:   "s3_bucket_name",
		},
		{
			name: "no folders",
			mutate: func(f *fakeSSM) {
				delete(f.params, "/cloud-courier/cytometer-1/folders/exports")
				delete(f.params, "/cloud-courier/cytometer-1/folders/archive")
			},
			contains: "no folders",
		},
		{
			name:     "bad app config",
			mutate:   func(f *fakeSSM) { f.params["/cloud-courier/cytometer-1/app-config"] = `{"heartbeat_frequency_seconds": -1}` },
			contains: "heartbeat_frequency_seconds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := seeded()
			tt.mutate(client)
			_, err := NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil).Load(context.Background())

			var loadErr *ConfigLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.descriptor, loadErr.Descriptor)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestLoadPropagatesAPIErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewLoader(seeded(), &fakeSTS{err: boom}, "us-east-1", nil).Load(context.Background())
	require.ErrorIs(t, err, boom)

	client := seeded()
	client.getErr = boom
	_, err = NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil).Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestTagInstance(t *testing.T) {
	client := seeded()
	client.instances = []ssmtypes.InstanceInformation{{InstanceId: aws.String("mi-0123456789abcdef0")}}

	l := NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil)
	require.NoError(t, l.TagInstance(context.Background(), "lab-pc-07", "v1.2.3"))

	tags := client.tags["mi-0123456789abcdef0"]
	require.Len(t, tags, 1)
	assert.Equal(t, VersionTagKey, aws.ToString(tags[0].Key))
	assert.Equal(t, "v1.2.3", aws.ToString(tags[0].Value))
}

func TestTagInstanceRequiresExactlyOne(t *testing.T) {
	client := seeded()
	l := NewLoader(client, &fakeSTS{arn: callerARN}, "us-east-1", nil)
	require.ErrorIs(t, l.TagInstance(context.Background(), "lab-pc-07", "v1"), ErrInstanceNotFound)

	client.instances = []ssmtypes.InstanceInformation{
		{InstanceId: aws.String("mi-1")},
		{InstanceId: aws.String("mi-2")},
	}
	err := l.TagInstance(context.Background(), "lab-pc-07", "v1")
	require.ErrorIs(t, err, ErrInstanceNotFound)
	assert.Contains(t, err.Error(), "mi-1, mi-2")
	assert.Empty(t, client.tags)
}
