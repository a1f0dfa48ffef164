package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/bastion/api"
	"github.com/jmcleod/bastion/lifecycle"
	"github.com/jmcleod/bastion/signing"
	bboltstorage "github.com/jmcleod/bastion/storage/bbolt"
	"github.com/jmcleod/bastion/token"
)

var (
	port           int
	dataDir        string
	domain         string
	trustedKeySets []string
	production     bool
	pruneInterval  time.Duration
	maxDerivations int64
	tlsCert        string
	tlsKey         string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := bboltstorage.NewStoreFromFile(dataDir+"/bastion.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open token storage: %w", err)
		}
		defer store.Close()

		tokenCfg := token.DefaultConfig()
		tokenCfg.IsProduction = production
		factory := token.NewFactory(tokenCfg,
			token.WithDerivePool(token.NewDerivePool(maxDerivations)))

		manager := lifecycle.New(store, tokenCfg)
		if err := manager.Start(pruneInterval); err != nil {
			return fmt.Errorf("failed to start token pruner: %w", err)
		}
		defer manager.Stop()

		verifier := signing.NewVerifier(signing.Config{
			Audience:       domain,
			TrustedKeySets: trustedKeySets,
			MaxLifetime:    5 * time.Minute,
		})

		a := api.New(store, factory, manager, verifier, api.Config{
			Domain:       domain,
			IsProduction: production,
		})

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s, domain: %s)...\n", port, dataDir, domain)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&domain, "domain", "localhost", "Public domain, the audience of service tokens")
	serverCmd.Flags().StringArrayVar(&trustedKeySets, "trusted-jku", nil, "Trusted service key-set URL (repeatable)")
	serverCmd.Flags().BoolVar(&production, "production", true, "Disable test-only escape hatches")
	serverCmd.Flags().DurationVar(&pruneInterval, "prune-interval", time.Hour, "Interval between expired-token sweeps")
	serverCmd.Flags().Int64Var(&maxDerivations, "max-derivations", 16, "Maximum concurrent key derivations")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
