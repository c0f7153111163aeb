package transport

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestDialTLSWithoutConfigFails verifies a grpcs URL without TLS
// material fails at construction instead of downgrading to plaintext.
func TestDialTLSWithoutConfigFails(t *testing.T) {
	_, err := Dial(context.Background(), GRPCConfig{
		URL: "grpcs://localhost:9443",
		TLS: fn.None[TLSConfig](),
	})
	require.ErrorIs(t, err, ErrTLSRequired)
}

// TestServerTLSRequiresKeyPair verifies a server TLS config without a
// certificate pair is rejected.
func TestServerTLSRequiresKeyPair(t *testing.T) {
	_, err := TLSConfig{}.ServerCredentials()
	require.ErrorIs(t, err, ErrTLSRequired)

	_, err = NewServer(ServerConfig{
		ListenAddr: "localhost:0",
		TLS:        fn.Some(TLSConfig{}),
	}, func(Transport) {})
	require.ErrorIs(t, err, ErrTLSRequired)
}

// TestClientCredentialsMissingFiles verifies unreadable material
// surfaces as construction errors.
func TestClientCredentialsMissingFiles(t *testing.T) {
	_, err := TLSConfig{
		CAFile: "testdata/does-not-exist.pem",
	}.ClientCredentials()
	require.Error(t, err)

	_, err = TLSConfig{
		CertFile: "testdata/missing-cert.pem",
		KeyFile:  "testdata/missing-key.pem",
	}.ClientCredentials()
	require.Error(t, err)
}

// TestClientCredentialsVerifyModes verifies all three verification
// modes construct credentials when no file material is needed.
func TestClientCredentialsVerifyModes(t *testing.T) {
	for _, mode := range []VerifyMode{
		VerifyFull, VerifyNoHostname, VerifyNone,
	} {
		creds, err := TLSConfig{Verify: mode}.ClientCredentials()
		require.NoError(t, err)
		require.Equal(t, "tls", creds.Info().SecurityProtocol)
	}
}
