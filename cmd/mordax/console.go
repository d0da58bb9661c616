package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/mordax/internal/runtime/netstack"
)

var (
	consoleListen    string
	consoleCert      string
	consoleKey       string
	consoleWriteCert bool
	consoleHosts     []string
)

func init() {
	cmd := newConsoleCmd()
	cmd.Flags().StringVar(&consoleListen, "listen", "127.0.0.1:4433", "UDP address to listen on")
	cmd.Flags().StringVar(&consoleCert, "cert", "", "TLS certificate file (self-signed when empty)")
	cmd.Flags().StringVar(&consoleKey, "key", "", "TLS key file")
	cmd.Flags().BoolVar(&consoleWriteCert, "write-cert", false, "generate a certificate and save it to --cert and --key")
	cmd.Flags().StringSliceVar(&consoleHosts, "host", []string{"localhost", "127.0.0.1"}, "names the generated certificate is valid for")
	rootCmd.AddCommand(cmd)
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Receive kernel output over QUIC",
		Long: `The console command runs a remote debug console. Kernels booted with
--console ADDR, or boards whose debug interface is a mordax,quic-console
node, send their output here.

Example:
  mordax console --listen 127.0.0.1:4433
  mordax console --cert console.pem --key console.key --write-cert
  mordax boot --console 127.0.0.1:4433`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, cmd)
		},
	}
}

func runConsole(ctx context.Context, cmd *cobra.Command) error {
	id, err := consoleIdentity()
	if err != nil {
		return err
	}
	tlsCfg, err := id.ServerTLS()
	if err != nil {
		return fmt.Errorf("failed to set up TLS: %w", err)
	}

	srv, err := netstack.ListenConsole(consoleListen, tlsCfg, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", consoleListen, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "console listening on %s\n", srv.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	return err
}

// consoleIdentity loads the certificate named by --cert and --key. With
// --write-cert a new one is generated and saved there first; with neither
// a throwaway certificate is used.
func consoleIdentity() (*netstack.ConsoleIdentity, error) {
	switch {
	case consoleWriteCert:
		if consoleCert == "" || consoleKey == "" {
			return nil, errors.New("--write-cert needs --cert and --key")
		}
		id, err := netstack.NewConsoleIdentity(consoleHosts, 365*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		if err := id.Save(consoleCert, consoleKey); err != nil {
			return nil, fmt.Errorf("failed to save certificate: %w", err)
		}
		return id, nil
	case consoleCert != "":
		id, err := netstack.LoadConsoleIdentity(consoleCert, consoleKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		return id, nil
	default:
		return netstack.NewConsoleIdentity(consoleHosts, 24*time.Hour)
	}
}
