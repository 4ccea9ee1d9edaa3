// Command netpipefsd mounts a named-pipe filesystem backed by a network peer.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onkernel/netpipefs/cmd/config"
	"github.com/onkernel/netpipefs/internal/dispatcher"
	"github.com/onkernel/netpipefs/internal/fsadapter"
	"github.com/onkernel/netpipefs/internal/handshake"
	"github.com/onkernel/netpipefs/internal/health"
	"github.com/onkernel/netpipefs/internal/netlog"
	"github.com/onkernel/netpipefs/internal/pipe"
	"github.com/onkernel/netpipefs/internal/protocol"
	"github.com/onkernel/netpipefs/internal/registry"
	"github.com/onkernel/netpipefs/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		netlog.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}
	netlog.SetVerbose(cfg.Verbose)
	netlog.Info("netpipefs starting: mode=%s mount=%s transport=%s", cfg.Mode, cfg.MountPoint, cfg.Transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, wsServer, err := dial(ctx, cfg)
	if err != nil {
		netlog.Error("handshake failed: %v", err)
		os.Exit(1)
	}
	defer result.Conn.Close()
	if wsServer != nil {
		defer wsServer.Shutdown(context.Background())
	}

	reg := registry.New()
	sender := dispatcher.NewSender(protocol.NewEncoder(result.Conn))
	engine := pipe.NewEngine(reg, sender, pipe.NopNotifier{}, cfg.PipeCapacity, result.RemoteCapacity)
	disp := dispatcher.New(protocol.NewDecoder(result.Conn), engine)

	healthServer := health.NewServer(cfg.HealthAddr, engine)
	healthServer.RegisterCheck("transport", func() (health.Status, string) {
		return health.StatusHealthy, "connected"
	})
	healthServer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(disp.Run)
	g.Go(func() error {
		server, err := fsadapter.Mount(cfg.MountPoint, engine)
		if err != nil {
			return err
		}
		go func() {
			<-gctx.Done()
			server.Unmount()
		}()
		server.Wait()
		return nil
	})

	<-ctx.Done()
	netlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		netlog.Error("health server shutdown: %v", err)
	}

	if err := g.Wait(); err != nil {
		netlog.Error("shutdown error: %v", err)
	}
}

// dial performs the connection handshake for the configured mode and
// transport. In listen+ws mode it also starts the HTTP server that upgrades
// the inbound connection, returned so the caller can shut it down afterward.
func dial(ctx context.Context, cfg *config.Config) (*handshake.Result, *http.Server, error) {
	useWS := cfg.Transport == "ws"

	if cfg.Mode == "connect" {
		result, err := handshake.Connect(ctx, cfg.RemoteAddr, cfg.RemotePipeCapacity, cfg.HandshakeTimeout, useWS)
		return result, nil, err
	}

	if !useWS {
		result, err := handshake.Listen(ctx, cfg.ListenAddr, cfg.RemotePipeCapacity, cfg.HandshakeTimeout, nil)
		return result, nil, err
	}

	wsHandler := transport.NewWSHandler()
	wsServer := &http.Server{Addr: cfg.ListenAddr, Handler: wsHandler}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			netlog.Error("websocket upgrade server: %v", err)
		}
	}()

	result, err := handshake.Listen(ctx, cfg.ListenAddr, cfg.RemotePipeCapacity, cfg.HandshakeTimeout, wsHandler)
	return result, wsServer, err
}
