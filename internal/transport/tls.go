package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// VerifyMode controls how a client validates the server's certificate.
type VerifyMode uint8

const (
	// VerifyFull validates the chain and the host name. This is the
	// default.
	VerifyFull VerifyMode = iota

	// VerifyNoHostname validates the chain against the trust roots
	// but skips host name verification.
	VerifyNoHostname

	// VerifyNone disables certificate verification entirely. Only for
	// development; selecting it logs a warning.
	VerifyNone
)

// TLSConfig is the TLS material and policy consumed by the framed
// transport. The network stack itself stays external: this value only
// describes certificates, trust roots, and verification behavior.
// Supplying CertFile and KeyFile on a client enables mTLS.
type TLSConfig struct {
	// CertFile is the PEM certificate chain path.
	CertFile string

	// KeyFile is the PEM private key path.
	KeyFile string

	// CAFile is the PEM trust root bundle path. Empty means the
	// system pool (client) or no client verification (server).
	CAFile string

	// Verify selects the client-side verification mode.
	Verify VerifyMode

	// ServerName overrides the expected server name when verifying.
	ServerName string

	// MinVersion and MaxVersion bound the negotiated TLS version.
	// Zero values default the minimum to TLS 1.2 and leave the
	// maximum open.
	MinVersion uint16
	MaxVersion uint16
}

// baseConfig renders the version bounds common to both directions.
func (c TLSConfig) baseConfig() *tls.Config {
	minVersion := c.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		MinVersion: minVersion,
		MaxVersion: c.MaxVersion,
	}
}

// loadCAPool reads the configured trust root bundle.
func (c TLSConfig) loadCAPool() (*x509.CertPool, error) {
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in ca bundle %q",
			c.CAFile)
	}

	return pool, nil
}

// ClientCredentials builds the gRPC transport credentials for a dialing
// client. Insecure verification modes are explicit and logged; they are
// never chosen implicitly.
func (c TLSConfig) ClientCredentials() (credentials.TransportCredentials,
	error) {

	cfg := c.baseConfig()
	cfg.ServerName = c.ServerName

	if c.CAFile != "" {
		pool, err := c.loadCAPool()
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	// Client certificate pair enables mTLS.
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf(
				"load client key pair: %w", err,
			)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	switch c.Verify {
	case VerifyFull:
		// Default tls.Config behavior.

	case VerifyNoHostname:
		log.WarnS(context.Background(),
			"TLS host name verification disabled", nil)

		// Chain verification still runs, via the manual callback,
		// since InsecureSkipVerify turns everything off.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainOnly(cfg.RootCAs)

	case VerifyNone:
		log.WarnS(context.Background(),
			"TLS certificate verification disabled", nil)

		cfg.InsecureSkipVerify = true

	default:
		return nil, fmt.Errorf("unknown verify mode %d", c.Verify)
	}

	return credentials.NewTLS(cfg), nil
}

// ServerCredentials builds the gRPC transport credentials for a
// listening server. A certificate pair is mandatory; a CA bundle
// additionally demands and verifies client certificates (mTLS).
func (c TLSConfig) ServerCredentials() (credentials.TransportCredentials,
	error) {

	if c.CertFile == "" || c.KeyFile == "" {
		return nil, fmt.Errorf("%w: server cert and key required",
			ErrTLSRequired)
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}

	cfg := c.baseConfig()
	cfg.Certificates = []tls.Certificate{cert}

	if c.CAFile != "" {
		pool, err := c.loadCAPool()
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(cfg), nil
}

// verifyChainOnly returns a VerifyPeerCertificate callback that
// validates the presented chain against the given roots without host
// name checks.
func verifyChainOnly(
	roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("peer presented no certificate")
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf(
					"parse peer certificate: %w", err,
				)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})

		return err
	}
}
