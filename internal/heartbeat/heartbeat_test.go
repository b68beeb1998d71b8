package heartbeat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	beats []Beat
	err   error
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Send(_ context.Context, b Beat) error {
	s.beats = append(s.beats, b)
	return s.err
}

func TestEmitterGatesOnFrequency(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &countingSink{}
	e := NewEmitter(clock, nil, sink)
	e.Configure(30*time.Second, "lab-pc-role")

	require.True(t, e.SendIfDue(context.Background()), "first beat is sent right away")
	assert.False(t, e.SendIfDue(context.Background()))

	clock.Advance(29 * time.Second)
	assert.False(t, e.SendIfDue(context.Background()))
	assert.Len(t, sink.beats, 1)

	clock.Advance(time.Second)
	require.True(t, e.SendIfDue(context.Background()))
	require.Len(t, sink.beats, 2)
	assert.Equal(t, "lab-pc-role", sink.beats[1].Identity)
	assert.Equal(t, clock.Now(), sink.beats[1].At)
	assert.Equal(t, clock.Now(), e.Last())
}

func TestEmitterAdvancesOnSinkFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	failing := &countingSink{err: errors.New("throttled")}
	ok := &countingSink{}
	e := NewEmitter(clock, nil, failing, ok)
	e.Configure(time.Minute, "role")

	require.True(t, e.SendIfDue(context.Background()))
	assert.Len(t, ok.beats, 1, "a failing sink does not stop the others")
	assert.False(t, e.Due())
}

func TestEmitterConfigureKeepsLastBeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &countingSink{}
	e := NewEmitter(clock, nil, sink)
	e.Configure(time.Minute, "role")
	require.True(t, e.SendIfDue(context.Background()))

	e.Configure(time.Hour, "role")
	clock.Advance(2 * time.Minute)
	assert.False(t, e.SendIfDue(context.Background()))
}

type fakeMetrics struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeMetrics) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchSink(t *testing.T) {
	client := &fakeMetrics{}
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, NewCloudWatchSink(client).Send(context.Background(), Beat{Identity: "lab-pc-role", At: at}))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "CloudCourier", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 1)
	d := in.MetricData[0]
	assert.Equal(t, "heartbeat", aws.ToString(d.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(d.Value))
	assert.Equal(t, types.StandardUnitCount, d.Unit)
	assert.Equal(t, at, aws.ToTime(d.Timestamp))

	dims := map[string]string{}
	for _, dim := range d.Dimensions {
		dims[aws.ToString(dim.Name)] = aws.ToString(dim.Value)
	}
	assert.Equal(t, map[string]string{"Application": "CloudCourier", "instance-role-name": "lab-pc-role"}, dims)
}

func TestHTTPSink(t *testing.T) {
	token := uuid.NewString()
	var gotAuth, gotIdentity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdentity = r.URL.Query().Get("identity")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/agent/check", token)
	require.NoError(t, sink.Send(context.Background(), Beat{Identity: "role", At: time.Now()}))
	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, "role", gotIdentity)
}

func TestHTTPSinkRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, "bad").Send(context.Background(), Beat{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
