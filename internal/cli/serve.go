// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mobiletoly/go-ledgersync/internal/config"
	"github.com/mobiletoly/go-ledgersync/internal/server"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
	"github.com/spf13/cobra"
)

type ServeOptions struct {
	*RootOptions
	Addr      string
	DevSignin bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote document store over HTTP",
		Long: `Serve the customers and transactions collections to ledger clients.
Documents live in Postgres when remote.mode is postgres, in memory otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().BoolVar(&opts.DevSignin, "dev-signin", false, "expose POST /dev/signin for local testing")

	return cmd
}

func (o *ServeOptions) serve(ctx context.Context) error {
	rc := o.Config.Remote
	if rc.JWTSecret == "" {
		return NewExitError(ExitCommandError, "remote.jwt_secret is required to serve")
	}
	dsn := ""
	if rc.Mode == config.RemotePostgres {
		dsn = rc.DatabaseURL
	}
	addr := o.Addr
	if addr == "" {
		addr = o.Config.Server.Addr
	}

	comps, err := server.SetupServer(ctx, &server.ServerConfig{
		DatabaseURL: dsn,
		JWTSecret:   rc.JWTSecret,
		Logger:      o.Logger,
		DevSignin:   o.DevSignin,
		LogRequests: o.Config.Log.Level == "debug",
	})
	if err != nil {
		return WrapExitError(ExitFailure, "setup server", err)
	}
	defer comps.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           comps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		o.Logger.Info("Starting document server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitFailure, "listen", err)
		}
		return nil
	case <-ctx.Done():
	}

	o.Logger.Info("Shutting down document server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	o.Logger.Info("Document server stopped")
	return nil
}

type TokenOptions struct {
	*RootOptions
	User   string
	Device string
	TTL    time.Duration
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a document server client",
		Long: `Sign a token with remote.jwt_secret. The user owns the documents; the
device is recorded as the writer.

Examples:
  ledger token --user shop-1 --device desktop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.Config.Remote.JWTSecret
			if secret == "" {
				return NewExitError(ExitCommandError, "remote.jwt_secret is required")
			}
			user := opts.User
			if user == "" {
				user = opts.Config.Remote.UserID
			}
			if user == "" {
				return NewExitError(ExitCommandError, "--user is required")
			}
			device := opts.Device
			if device == "" {
				device = opts.Config.Source
			}
			token, err := ledgersync.NewJWTAuth(secret).GenerateToken(user, device, opts.TTL)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			out := map[string]string{"token": token, "user": user, "device": device}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "document owner (default remote.user_id)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "device id (default source)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 30*24*time.Hour, "token lifetime")

	return cmd
}
