package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/liqueflow/internal/bootstrap"
	"github.com/davidahmann/liqueflow/internal/config"
)

func TestNewServer(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.APIToken = "test-token"
	rt, err := bootstrap.Build(cfg, bootstrap.Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	srv, err := newServer(rt)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Addr != cfg.ListenAddr {
		t.Fatalf("expected addr %s, got %s", cfg.ListenAddr, srv.Addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/liquidity", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	res := httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRunDefaults(t *testing.T) {
	listen := func(srv *http.Server) error {
		if srv.Addr != ":8080" {
			t.Fatalf("expected default addr, got %s", srv.Addr)
		}
		return http.ErrServerClosed
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(_ *http.Server) error {
		return listenErr
	}

	if err := run(nil, func(string) string { return "" }, listen); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liqueflow.yaml")
	data := "listen_addr: \":9999\"\nescalation:\n  enabled: true\n  webhook_url: \"http://127.0.0.1:1/hook\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	listen := func(srv *http.Server) error {
		if srv.Addr != ":9999" {
			t.Fatalf("expected addr from config, got %s", srv.Addr)
		}
		return http.ErrServerClosed
	}
	getenv := func(key string) string {
		if key == "LIQUEFLOW_CONFIG_PATH" {
			return path
		}
		return ""
	}

	if err := run(nil, getenv, listen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunBadConfig(t *testing.T) {
	listen := func(*http.Server) error {
		t.Fatalf("server should not start")
		return nil
	}
	if err := run([]string{"--config", "missing.yaml"}, func(string) string { return "" }, listen); err == nil {
		t.Fatalf("expected error")
	}
	if err := run([]string{"--bogus"}, func(string) string { return "" }, listen); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func([]string, envFn, listenFn) error { return nil }

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func([]string, envFn, listenFn) error { return errors.New("boom") }

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
