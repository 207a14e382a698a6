package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/wsapi"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			defer log.Close()
			if addr != "" {
				cfg.Addr = addr
			}

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()
			return serve(ctx, cfg.Addr, b.newAPI)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides CARPOOL_ADDR")
	return cmd
}

func newRouter(connector *wsapi.Connector) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/ws", connector).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

// serve runs the gateway until ctx is done, then drains it.
func serve(ctx context.Context, addr string, newAPI func() *carpool.API) error {
	hub := wsapi.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{Addr: addr, Handler: newRouter(wsapi.NewConnector(hub, newAPI))}
	errs := make(chan error, 1)
	go func() {
		log.Println("Starting server at: " + addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Print("shutting down")
	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
