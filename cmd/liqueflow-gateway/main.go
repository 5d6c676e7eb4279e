package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/liqueflow/internal/api"
	"github.com/davidahmann/liqueflow/internal/auth"
	"github.com/davidahmann/liqueflow/internal/bootstrap"
	"github.com/davidahmann/liqueflow/internal/config"
	"github.com/davidahmann/liqueflow/internal/escalation"
	"github.com/davidahmann/liqueflow/internal/intake"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

func newServer(rt *bootstrap.Runtime) (*http.Server, error) {
	normalizer := intake.DefaultNormalizer()
	normalizer.Currency = rt.Config.Currency

	service, err := api.NewService(api.ServiceInput{
		Runner:         rt.Runner,
		Ledger:         rt.Ledger,
		Normalizer:     normalizer,
		InitialBalance: rt.Config.InitialBalance,
		Snapshot:       rt.InitialSnapshot(),
	})
	if err != nil {
		return nil, err
	}

	h := &api.Handler{
		Auth:    auth.NewTokenAuthenticator(rt.Config.APIToken),
		Service: service,
	}
	return &http.Server{
		Addr:              rt.Config.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func run(args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("liqueflow-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to liqueflow config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(firstNonEmpty(*configPath, getenv("LIQUEFLOW_CONFIG_PATH")))
	if err != nil {
		return err
	}
	rt, err := bootstrap.Build(cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := newServer(rt)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		log.Printf("liqueflow-gateway listening on %s atomic_settlement=%t", server.Addr, rt.Engine.AtomicMode())
		if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})
	if rt.Poster != nil {
		g.Go(func() error {
			log.Printf("escalation outbox worker started poll_interval=%s", cfg.Escalation.PollInterval)
			escalation.RunOutboxWorker(gctx, rt.Store, rt.Poster, cfg.Escalation.PollInterval, log.Default())
			return nil
		})
	}
	return g.Wait()
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
