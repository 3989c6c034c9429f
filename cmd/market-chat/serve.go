package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/market-chat/marketdev"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development marketplace backend (chat rooms + order API)",
	RunE:  runServe,
}

var (
	flagAddr        string
	flagServePath   string
	flagSeedListing int64
	flagSeedSeller  int64
	flagSeedPrice   int64
	flagSeedTitle   string
)

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&flagAddr, "addr", ":8094", "listen address")
	flags.StringVar(&flagServePath, "data-path", "", "optional directory to persist chat history via PebbleDB")
	flags.Int64Var(&flagSeedListing, "seed-listing", 1, "seed listing id")
	flags.Int64Var(&flagSeedSeller, "seed-seller", 2, "seed listing seller user id")
	flags.Int64Var(&flagSeedPrice, "seed-price", 10000, "seed listing price")
	flags.StringVar(&flagSeedTitle, "seed-title", "중고 물품", "seed listing title")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := marketdev.New(flagServePath, marketdev.Listing{
		ID:       flagSeedListing,
		SellerID: flagSeedSeller,
		Price:    flagSeedPrice,
		Title:    flagSeedTitle,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              flagAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Msgf("[dev] serving at http://127.0.0.1%s", flagAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[dev] http server stopped")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("[dev] http shutdown error")
	}
	server.Close()
	return nil
}
