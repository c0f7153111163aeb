package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/build"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/system"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/spf13/cobra"
)

var (
	// serveAddr is the listen address for the framed RPC server.
	serveAddr string

	// serveCert and serveKey enable TLS when both are set.
	serveCert string
	serveKey  string

	// serveCA enables mTLS client verification.
	serveCA string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo server hosting an echo actor",
	Long: `Serve starts the framed RPC server and registers a single
echo actor under the well-known id "echo-server". Clients invoke its
echo(string) method with the echo command.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen",
		"localhost:"+transport.DefaultPlaintextPort,
		"Listen address")
	serveCmd.Flags().StringVar(&serveCert, "tls-cert", "",
		"TLS certificate path (enables TLS with --tls-key)")
	serveCmd.Flags().StringVar(&serveKey, "tls-key", "",
		"TLS private key path")
	serveCmd.Flags().StringVar(&serveCA, "tls-ca", "",
		"Client CA bundle path (enables mTLS)")
}

// echoServerActor is the demo actor: echo(string) returns its input.
type echoServerActor struct {
	id identity.ID
}

func (a *echoServerActor) ActorID() identity.ID {
	return a.id
}

func (a *echoServerActor) DispatchTarget(ctx context.Context,
	target string, dec *invoke.Decoder,
	handler system.ResultHandler) error {

	switch target {
	case "echo(string)":
		if err := dec.CheckArity(1); err != nil {
			return err
		}

		arg, err := dec.DecodeNextArgument()
		if err != nil {
			return err
		}
		input, ok := arg.(string)
		if !ok {
			return fmt.Errorf("echo argument is %T", arg)
		}

		return handler.OnReturn(ctx, input, reflect.TypeOf(""))

	default:
		return fmt.Errorf("%w: %s", system.ErrMethodNotFound,
			target)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	closeLogs, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLogs()

	cfg, err := loadSystemConfig()
	if err != nil {
		return err
	}

	sys := system.NewServer(cfg, nil)
	sys.ActorReady(&echoServerActor{
		id: identity.WellKnown("echo-server"),
	})

	tlsCfg := fn.None[transport.TLSConfig]()
	if serveCert != "" || serveKey != "" {
		tlsCfg = fn.Some(transport.TLSConfig{
			CertFile: serveCert,
			KeyFile:  serveKey,
			CAFile:   serveCA,
		})
	}

	server, err := transport.NewServer(transport.ServerConfig{
		ListenAddr: serveAddr,
		TLS:        tlsCfg,
	}, func(t transport.Transport) {
		sys.Serve(t)
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	log.Printf("edged %s serving echo actor on %s",
		build.Version(), serveAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), 30*time.Second,
	)
	defer cancel()

	server.Stop()

	return sys.Shutdown(shutdownCtx)
}
