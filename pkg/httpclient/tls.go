package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	InsecureSkipVerify bool   // Skip TLS certificate verification (dev/test only)
	CACertificate      string // Path to custom CA certificate file
}

// Empty reports whether the config changes nothing.
func (c *TLSConfig) Empty() bool {
	return c == nil || (!c.InsecureSkipVerify && c.CACertificate == "")
}

// ConfigureTLS creates an http.Transport with TLS configuration
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	if config != nil && config.CACertificate != "" {
		caCert, err := os.ReadFile(config.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate from %s: %w", config.CACertificate, err)
		}

		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", config.CACertificate)
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	if config != nil && config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return transport, nil
}

// NewWithTLS builds a client whose transport applies tlsCfg.
func NewWithTLS(tlsCfg *TLSConfig, opts ...Option) (*Client, error) {
	c := New(opts...)
	if tlsCfg.Empty() {
		return c, nil
	}
	transport, err := ConfigureTLS(tlsCfg)
	if err != nil {
		return nil, err
	}
	c.client.Transport = transport
	return c, nil
}
