package commands

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/system"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/spf13/cobra"
)

var (
	// echoURL is the server connection URL.
	echoURL string

	// echoTimeout bounds the call.
	echoTimeout time.Duration

	// echoCA trusts a private CA for grpcs URLs.
	echoCA string

	// echoServerName overrides the expected TLS server name.
	echoServerName string
)

var echoCmd = &cobra.Command{
	Use:   "echo [message]",
	Short: "Invoke echo(string) on the demo server",
	Args:  cobra.ExactArgs(1),
	RunE:  runEcho,
}

func init() {
	echoCmd.Flags().StringVar(&echoURL, "url",
		"grpc://localhost:"+transport.DefaultPlaintextPort,
		"Server URL (grpc:// or grpcs://)")
	echoCmd.Flags().DurationVar(&echoTimeout, "timeout",
		10*time.Second, "Per-call timeout")
	echoCmd.Flags().StringVar(&echoCA, "tls-ca", "",
		"CA bundle to trust for grpcs URLs")
	echoCmd.Flags().StringVar(&echoServerName, "tls-server-name", "",
		"Expected TLS server name override")
}

func runEcho(_ *cobra.Command, args []string) error {
	closeLogs, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := context.WithTimeout(
		context.Background(), echoTimeout+5*time.Second,
	)
	defer cancel()

	tlsCfg := fn.None[transport.TLSConfig]()
	if echoCA != "" || echoServerName != "" {
		tlsCfg = fn.Some(transport.TLSConfig{
			CAFile:     echoCA,
			ServerName: echoServerName,
		})
	}

	conn, err := transport.Dial(ctx, transport.GRPCConfig{
		URL: echoURL,
		TLS: tlsCfg,
	})
	if err != nil {
		return err
	}

	cfg, err := loadSystemConfig()
	if err != nil {
		return err
	}
	cfg.Timeout = echoTimeout

	sys := system.NewClient(cfg, conn, nil)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		_ = sys.Shutdown(shutdownCtx)
	}()

	// The hand-written stub shape: record the argument and return
	// type, finish recording, issue the call.
	enc := invoke.NewEncoder(sys.Codecs())
	if err := invoke.RecordArgument(enc, args[0]); err != nil {
		return err
	}
	if err := enc.RecordReturnType(reflect.TypeOf("")); err != nil {
		return err
	}
	if err := enc.DoneRecording(); err != nil {
		return err
	}

	out, err := system.RemoteCall[string](
		ctx, sys, identity.WellKnown("echo-server"),
		"echo(string)", enc,
	)
	if err != nil {
		return err
	}

	fmt.Println(out)

	return nil
}
