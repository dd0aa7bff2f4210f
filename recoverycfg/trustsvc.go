package recoverycfg

import (
	"fmt"
	"net/url"
	"time"

	"github.com/lightningnetwork/recoverykit/trustsvc"
)

// TrustService holds the trust service client settings.
//
//nolint:lll
type TrustService struct {
	URL       string        `long:"url" description:"Base URL of the trust service."`
	Timeout   time.Duration `long:"timeout" description:"Timeout of a single request."`
	UserAgent string        `long:"useragent" description:"User agent sent with every request."`
}

// DefaultTrustService returns the default trust service config.
func DefaultTrustService() *TrustService {
	return &TrustService{
		URL:       "http://localhost:8080",
		Timeout:   trustsvc.DefaultTimeout,
		UserAgent: "recoverykit",
	}
}

// Validate validates the trust service config.
//
// NOTE: This is part of the Validator interface.
func (t *TrustService) Validate() error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("invalid trust service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("trust service url %q must be http or https",
			t.URL)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("trust service timeout must be positive")
	}

	return nil
}

// NewClient returns a trust service client for this config.
func (t *TrustService) NewClient() *trustsvc.Client {
	return trustsvc.New(&trustsvc.Config{
		BaseURL:   t.URL,
		Timeout:   t.Timeout,
		UserAgent: t.UserAgent,
	})
}
