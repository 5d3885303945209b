package bootstrap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/LingByte/LingSFU/pkg/config"
	"github.com/LingByte/LingSFU/pkg/logger"
	"go.uber.org/zap"
)

// LogConfigInfo Print the effective configuration
func LogConfigInfo(cfg *config.Config) {
	logger.Info("system config load finished")

	logger.Info("base config",
		zap.String("addr", cfg.Addr),
		zap.String("mode", cfg.Mode),
		zap.String("server_name", cfg.ServerName),
		zap.String("config_file", cfg.ConfigFile),
	)

	logger.Info("sfu config",
		zap.String("engine", cfg.SFU.Engine),
		zap.Int("workers", cfg.SFU.Workers),
		zap.Int("rtc_min_port", cfg.SFU.RtcMinPort),
		zap.Int("rtc_max_port", cfg.SFU.RtcMaxPort),
		zap.String("listen_ip", cfg.SFU.ListenIP),
		zap.String("announced_ip", cfg.SFU.AnnouncedIP),
		zap.Bool("udp", cfg.SFU.EnableUDP),
		zap.Bool("tcp", cfg.SFU.EnableTCP),
		zap.String("balancer", cfg.SFU.Balancer),
		zap.Int("codecs", len(cfg.SFU.MediaCodecs)),
		zap.Duration("operation_timeout", cfg.SFU.OperationTimeout),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	return printBanner(os.Stdout, filename, defaultText)
}

func printBanner(w io.Writer, filename, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;165m",
		"\x1b[38;5;189m",
		"\x1b[38;5;207m",
		"\x1b[38;5;219m",
		"\x1b[38;5;225m",
		"\x1b[38;5;231m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Fprintln(w, color+line+"\x1b[0m")
	}
	return nil
}

// EnsureBannerFile writes a framed banner with text when filename is absent.
// An existing file is left untouched.
func EnsureBannerFile(filename, text string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if text == "" {
		text = "LingSFU"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	border := "+" + strings.Repeat("-", len(text)+4) + "+"
	banner := strings.Join([]string{border, "|  " + text + "  |", border, ""}, "\n")
	return os.WriteFile(filename, []byte(banner), 0o644)
}
