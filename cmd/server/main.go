package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"social-service/internal/config"
	"social-service/internal/factory"
	"social-service/internal/handler"
	"social-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router := handler.NewRouter(f.ServiceFactory(), f.RouterConfig(), util.Get())

	servers := buildServers(f, cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.RunConsumers(gctx)
	})
	for _, s := range servers {
		s := s
		g.Go(func() error {
			return s.run()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", s.srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		util.Error("Server exited with error", util.ErrorField(err))
		return
	}
	util.Info("Server stopped")
}

type server struct {
	srv *http.Server
	tls bool
}

func (s server) run() error {
	util.Info("Listening", util.String("address", s.srv.Addr), util.Bool("tls", s.tls))
	var err error
	if s.tls {
		err = s.srv.ListenAndServeTLS("", "")
	} else {
		err = s.srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// buildServers returns the API server and, with ACME in production, the
// port 80 server answering HTTP-01 challenges.
func buildServers(f *factory.Factory, cfg *config.Config, router http.Handler) []server {
	api := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port))
		return []server{{srv: api}}
	}

	tlsManager := f.TLSManager()
	api.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	api.TLSConfig = tlsManager.GetTLSConfig()
	servers := []server{{srv: api, tls: true}}

	if acme := tlsManager.GetAutocertManager(); acme != nil && cfg.IsProduction() {
		servers = append(servers, server{srv: &http.Server{
			Addr:              ":80",
			Handler:           acme.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}})
	}
	return servers
}
