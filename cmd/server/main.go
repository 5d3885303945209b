package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LingByte/LingSFU/cmd/bootstrap"
	"github.com/LingByte/LingSFU/pkg/config"
	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/mediaengine/memengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/sfu"
	"github.com/LingByte/LingSFU/pkg/signaling"
	"github.com/LingByte/LingSFU/pkg/webrtc/rtcmedia"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagEnv maps command line flags onto the environment keys config.Load reads
var flagEnv = map[string]string{
	"addr":    constants.ENV_ADDR,
	"mode":    constants.ENV_MODE,
	"engine":  constants.ENV_SFU_ENGINE,
	"workers": constants.ENV_SFU_WORKERS,
	"config":  constants.ENV_SFU_CONFIG_FILE,
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lingsfu",
		Short:         "WebRTC SFU with websocket signaling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// flags win over .env and the process environment
			for name, key := range flagEnv {
				if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
					if err := os.Setenv(key, f.Value.String()); err != nil {
						return err
					}
				}
			}
			return run(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.String("addr", constants.DefaultAddr, "HTTP serve address")
	flags.String("mode", constants.DefaultMode, "running environment (development, test, production)")
	flags.String("engine", constants.DefaultEngine, "media engine (pion, memory)")
	flags.Int("workers", 0, "media workers, 0 = logical CPU count")
	flags.String("config", "", "YAML file with codec and worker overrides")
	return cmd
}

func run(ctx context.Context) error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		return err
	}
	defer logger.Sync()

	if err := bootstrap.PrintBannerFromFile("banner.txt", cfg.ServerName); err != nil {
		logger.Warn("banner not printed", zap.Error(err))
	}
	bootstrap.LogConfigInfo(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	fatal := make(chan error, 1)
	node := sfu.NewCentralNode(cfg.ServerName, sfuConfig(cfg), newEngine(cfg.SFU.Engine), logger.Lg,
		sfu.WithMetrics(m),
		sfu.WithFatalHandler(func(err error) {
			select {
			case fatal <- err:
			default:
			}
		}))
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start sfu node: %w", err)
	}
	sig := signaling.NewServer(node, signalingConfig(cfg), logger.Lg, m)

	if cfg.Mode != "dev" && cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := cfg.Addr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        newRouter(node, sig, m),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server run failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var cause error
		select {
		case <-gctx.Done():
		case cause = <-fatal:
			logger.Error("media worker died, shutting down",
				zap.Error(cause),
				zap.Duration("grace", cfg.SFU.WorkerDeathGrace))
			// lets in-flight error responses and notifications reach clients
			time.Sleep(cfg.SFU.WorkerDeathGrace)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sig.Close()
		node.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && cause == nil {
			cause = err
		}
		return cause
	})
	err := g.Wait()
	logger.Info("server stopped", zap.Error(err))
	return err
}

func newEngine(name string) mediaengine.Engine {
	if name == constants.EngineMemory {
		logger.Warn("memory engine selected, no media will flow")
		return memengine.New()
	}
	return rtcmedia.New(logger.Lg)
}

func sfuConfig(cfg *config.Config) *sfu.Config {
	s := cfg.SFU
	return &sfu.Config{
		NumWorkers:          s.Workers,
		RtcMinPort:          uint16(s.RtcMinPort),
		RtcMaxPort:          uint16(s.RtcMaxPort),
		ListenIP:            s.ListenIP,
		AnnouncedIP:         s.AnnouncedIP,
		EnableUDP:           s.EnableUDP,
		EnableTCP:           s.EnableTCP,
		PreferUDP:           s.PreferUDP,
		MediaCodecs:         s.MediaCodecs,
		OperationTimeout:    s.OperationTimeout,
		MaxPeers:            s.MaxPeers,
		MaxRoomPeers:        s.MaxRoomPeers,
		MaxRoutersPerWorker: s.MaxRoutersPerWorker,
		Balancer:            s.Balancer,
		StatsSchedule:       s.StatsSchedule,
	}
}

func signalingConfig(cfg *config.Config) signaling.Config {
	s := cfg.Signaling
	return signaling.Config{
		ReadLimit:    s.ReadLimit,
		WriteTimeout: s.WriteTimeout,
		PongWait:     s.PongWait,
		PingInterval: s.PingInterval,
		SendQueue:    s.SendQueue,
	}
}
