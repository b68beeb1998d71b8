package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSink pings a monitoring endpoint with a bearer token.
type HTTPSink struct {
	client *resty.Client
	url    string
	token  string
}

func NewHTTPSink(url, token string) *HTTPSink {
	return &HTTPSink{
		client: resty.New().SetTimeout(15 * time.Second),
		url:    url,
		token:  token,
	}
}

func (s *HTTPSink) Name() string { return s.url }

func (s *HTTPSink) Send(ctx context.Context, b Beat) error {
	req := s.client.R().
		SetContext(ctx).
		SetQueryParam("identity", b.Identity).
		SetQueryParam("at", b.At.UTC().Format(time.RFC3339))
	if s.token != "" {
		req.SetHeader("Authorization", "Bearer "+s.token)
	}
	resp, err := req.Get(s.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode())
	}
	return nil
}
