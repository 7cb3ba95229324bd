package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fixdeck/host/internal/analyzer"
	"github.com/fixdeck/host/internal/auth"
	"github.com/fixdeck/host/internal/diagnostics"
	"github.com/fixdeck/host/internal/issues"
	"github.com/fixdeck/host/internal/mdns"
	"github.com/fixdeck/host/internal/server"
	hosttls "github.com/fixdeck/host/internal/tls"
)

func newServeCmd(r *rootCommand) *cobra.Command {
	var (
		addr   string
		watch  bool
		mdnsF  bool
		useTLS bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor bridge",
		Long: `Serve the issue tree, patch decisions, diagnostics and analyzer runs to
editor extensions over a WebSocket at ws://<addr>/ws. GET /health reports
liveness.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			a, err := r.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.WatchManifest = watch
			}
			if cmd.Flags().Changed("mdns") {
				a.cfg.MdnsEnabled = mdnsF
			}
			if cmd.Flags().Changed("tls") {
				a.cfg.TLS = useTLS
			}
			return serve(ctx, r, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload when the manifest changes (overrides watch_manifest)")
	cmd.Flags().BoolVar(&mdnsF, "mdns", false, "Advertise on the local network (overrides mdns_enabled)")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Serve wss:// with a self-signed certificate (overrides tls)")
	return cmd
}

// serve runs the bridge until ctx is done.
func serve(ctx context.Context, r *rootCommand, a *app) error {
	ui := newPrinter(r.stdout, r.colorMode())
	srv := server.NewServer(a.cfg.Addr)

	// refreshDiagnostics recomputes every document clients hold diagnostics
	// for, so fixed or reloaded issues disappear from open editors.
	refreshDiagnostics := func() {
		for _, doc := range srv.DiagnosticDocuments() {
			diagnostics.Refresh(a.store, doc, srv.Diagnostics())
		}
	}

	a.engine.SetTreeChangedCallback(srv.BroadcastTreeRefresh)
	a.engine.SetDiagnosticsChangedCallback(func(file string) {
		diagnostics.Refresh(a.store, file, srv.Diagnostics())
	})
	srv.SetDecider(a.engine)
	srv.SetIssueSource(a.store)

	runner := newRunner(a.cfg, a.history)
	runner.SetOutputHandler(srv.BroadcastAnalysisOutput)
	if a.cfg.AnalyzerPath != "" {
		srv.SetAnalyzer(runner)
	}
	srv.SetAnalysisDoneHandler(func(res *analyzer.Result, err error) {
		if _, lerr := a.store.Reload(context.WithoutCancel(ctx)); lerr != nil {
			warnf("reload after analysis: %v", lerr)
		}
		srv.BroadcastTreeRefresh("")
		refreshDiagnostics()
	})

	if a.cfg.RequireAuth {
		validator, err := auth.NewTokenValidator(a.cfg.TokenHash)
		if err != nil {
			return fmt.Errorf("require_auth: %w (run 'fixdeck token')", err)
		}
		srv.SetTokenValidator(validator.ValidateToken)
		srv.SetRequireAuth(true)
	}

	srv.SetHello(server.HelloPayload{
		Version:     Version,
		ProjectRoot: a.cfg.ProjectRoot,
	})

	scheme, fingerprint := "ws", ""
	if a.cfg.TLS {
		cert, err := hosttls.Ensure(a.cfg.CertDir, certHosts(a.cfg.Addr))
		if err != nil {
			return fmt.Errorf("bridge certificate: %w", err)
		}
		srv.SetTLSConfig(cert.ServerConfig())
		scheme, fingerprint = "wss", cert.Fingerprint
	}

	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Addr, err)
	}
	if err := <-srv.StartListener(ln); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Fprintf(r.stdout, "%s serving %s://%s/ws for %s\n", ui.ok("✓"), scheme, srv.Addr(), a.cfg.ProjectRoot)
	if fingerprint != "" {
		fmt.Fprintf(r.stdout, "  certificate %s\n", ui.dim(fingerprint))
	}
	if a.cfg.RequireAuth {
		fmt.Fprintln(r.stdout, "  bearer token required")
	}

	if a.cfg.WatchManifest {
		watcher := issues.NewWatcher(issues.WatcherConfig{
			Store: a.store,
			OnReload: func(*issues.Tree) {
				srv.BroadcastTreeRefresh("")
				refreshDiagnostics()
			},
			OnError: func(err error) {
				warnf("manifest watch: %v", err)
			},
		})
		if err := watcher.Start(); err != nil {
			warnf("manifest watch disabled: %v", err)
		} else {
			defer watcher.Stop()
			fmt.Fprintf(r.stdout, "  watching %s\n", a.cfg.ManifestPath)
		}
	}

	if a.cfg.MdnsEnabled {
		_, portStr, _ := net.SplitHostPort(srv.Addr())
		port, _ := strconv.Atoi(portStr)
		adv := mdns.NewAdvertiser(mdns.Config{
			Port:         port,
			Project:      filepath.Base(a.cfg.ProjectRoot),
			AuthRequired: a.cfg.RequireAuth,
			Fingerprint:  fingerprint,
		})
		if err := adv.Start(); err != nil {
			warnf("failed to start mDNS discovery: %v", err)
		} else {
			defer adv.Stop()
			fmt.Fprintln(r.stdout, "  mDNS discovery enabled (visible on LAN)")
		}
	}

	<-ctx.Done()
	fmt.Fprintln(r.stdout, "\nstopping...")
	if runner.IsRunning() {
		if err := runner.Stop(); err != nil {
			warnf("stop analyzer: %v", err)
		}
	}
	return nil
}

// certHosts lists the names a generated certificate is valid for: the
// loopback names plus the listen host when it is specific.
func certHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return hosts
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return hosts
	}
	for _, h := range hosts {
		if h == host {
			return hosts
		}
	}
	return append(hosts, host)
}
