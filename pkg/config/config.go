package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// SFUConfig holds media engine and session orchestration settings
type SFUConfig struct {
	Engine              string `env:"SFU_ENGINE"`
	Workers             int    `env:"SFU_WORKERS"` // 0 = logical CPU count
	RtcMinPort          int    `env:"RTC_MIN_PORT"`
	RtcMaxPort          int    `env:"RTC_MAX_PORT"`
	ListenIP            string `env:"RTC_LISTEN_IP"`
	AnnouncedIP         string `env:"RTC_ANNOUNCED_IP"`
	EnableUDP           bool   `env:"RTC_ENABLE_UDP"`
	EnableTCP           bool   `env:"RTC_ENABLE_TCP"`
	PreferUDP           bool   `env:"RTC_PREFER_UDP"`
	OperationTimeout    time.Duration
	WorkerDeathGrace    time.Duration
	MaxPeers            int
	MaxRoomPeers        int
	MaxRoutersPerWorker int
	Balancer            string
	StatsSchedule       string
	MediaCodecs         []mediaengine.RtpCodecCapability
}

// SignalingConfig holds websocket channel limits
type SignalingConfig struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	SendQueue    int
}

var GlobalConfig *Config

// Config System  common config
type Config struct {
	Server     ServerConfig     // Server configuration
	Log        logger.LogConfig // Log configuration
	SFU        SFUConfig
	Signaling  SignalingConfig
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	ServerName string `env:"SERVER_NAME"`
	ConfigFile string `env:"SFU_CONFIG_FILE"`
}

// fileOverrides is the optional YAML document named by SFU_CONFIG_FILE
type fileOverrides struct {
	Codecs  []mediaengine.RtpCodecCapability `yaml:"codecs"`
	Workers *struct {
		Count      int    `yaml:"count"`
		RtcMinPort int    `yaml:"rtcMinPort"`
		RtcMaxPort int    `yaml:"rtcMaxPort"`
		MaxRouters int    `yaml:"maxRouters"`
		Balancer   string `yaml:"balancer"`
	} `yaml:"workers"`
}

func Load() error {
	// .env is optional; defaults cover every key
	mode := utils.GetStringOrDefault(constants.ENV_MODE, constants.DefaultMode)
	if err := utils.LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}
	cfg := &Config{
		Server: ServerConfig{
			ReadTimeout:  utils.GetDurationOrDefault("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: utils.GetDurationOrDefault("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  utils.GetDurationOrDefault("IDLE_TIMEOUT", 120*time.Second),
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault("LOG_LEVEL", "info"),
			Filename:   utils.GetStringOrDefault("LOG_FILENAME", "./logs/sfu.log"),
			MaxSize:    utils.GetIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     utils.GetIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: utils.GetIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      utils.GetBoolOrDefault("LOG_DAILY", true),
		},
		SFU: SFUConfig{
			Engine:              utils.GetStringOrDefault(constants.ENV_SFU_ENGINE, constants.DefaultEngine),
			Workers:             utils.GetIntOrDefault(constants.ENV_SFU_WORKERS, 0),
			RtcMinPort:          utils.GetIntOrDefault(constants.ENV_RTC_MIN_PORT, constants.DefaultRtcMinPort),
			RtcMaxPort:          utils.GetIntOrDefault(constants.ENV_RTC_MAX_PORT, constants.DefaultRtcMaxPort),
			ListenIP:            utils.GetStringOrDefault(constants.ENV_RTC_LISTEN_IP, constants.DefaultListenIP),
			AnnouncedIP:         utils.GetStringOrDefault(constants.ENV_RTC_ANNOUNCED_IP, constants.DefaultAnnouncedIP),
			EnableUDP:           utils.GetBoolOrDefault(constants.ENV_RTC_ENABLE_UDP, true),
			EnableTCP:           utils.GetBoolOrDefault(constants.ENV_RTC_ENABLE_TCP, true),
			PreferUDP:           utils.GetBoolOrDefault(constants.ENV_RTC_PREFER_UDP, true),
			OperationTimeout:    utils.GetDurationOrDefault(constants.ENV_SFU_OPERATION_TIMEOUT, constants.DefaultOperationTimeout),
			WorkerDeathGrace:    utils.GetDurationOrDefault(constants.ENV_SFU_WORKER_DEATH_GRACE, constants.DefaultWorkerDeathGrace),
			MaxPeers:            utils.GetIntOrDefault(constants.ENV_SFU_MAX_PEERS, 0),
			MaxRoomPeers:        utils.GetIntOrDefault(constants.ENV_SFU_MAX_ROOM_PEERS, 0),
			MaxRoutersPerWorker: utils.GetIntOrDefault(constants.ENV_SFU_MAX_ROUTERS_PER_WORKER, 0),
			Balancer:            utils.GetStringOrDefault(constants.ENV_SFU_BALANCER, constants.BalancerLeastLoaded),
			StatsSchedule:       utils.GetStringOrDefault(constants.ENV_SFU_STATS_SCHEDULE, constants.DefaultStatsSchedule),
			MediaCodecs:         mediaengine.DefaultMediaCodecs(),
		},
		Signaling: SignalingConfig{
			ReadLimit:    int64(utils.GetIntOrDefault(constants.ENV_WS_READ_LIMIT, constants.DefaultWSReadLimit)),
			WriteTimeout: utils.GetDurationOrDefault(constants.ENV_WS_WRITE_TIMEOUT, constants.DefaultWSWriteTimeout),
			PongWait:     utils.GetDurationOrDefault(constants.ENV_WS_PONG_WAIT, constants.DefaultWSPongWait),
			PingInterval: utils.GetDurationOrDefault(constants.ENV_WS_PING_INTERVAL, constants.DefaultWSPingInterval),
			SendQueue:    utils.GetIntOrDefault(constants.ENV_WS_SEND_QUEUE, constants.DefaultWSSendQueue),
		},
		Mode:       mode,
		Addr:       utils.GetStringOrDefault(constants.ENV_ADDR, constants.DefaultAddr),
		ServerName: utils.GetStringOrDefault(constants.ENV_SERVER_NAME, "LingSFU"),
		ConfigFile: utils.GetEnv(constants.ENV_SFU_CONFIG_FILE),
	}
	if cfg.ConfigFile != "" {
		if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// ApplyFile overlays codec and worker settings from a YAML file
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var ov fileOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(ov.Codecs) > 0 {
		c.SFU.MediaCodecs = ov.Codecs
	}
	if w := ov.Workers; w != nil {
		if w.Count > 0 {
			c.SFU.Workers = w.Count
		}
		if w.RtcMinPort > 0 {
			c.SFU.RtcMinPort = w.RtcMinPort
		}
		if w.RtcMaxPort > 0 {
			c.SFU.RtcMaxPort = w.RtcMaxPort
		}
		if w.MaxRouters > 0 {
			c.SFU.MaxRoutersPerWorker = w.MaxRouters
		}
		if w.Balancer != "" {
			c.SFU.Balancer = w.Balancer
		}
	}
	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	s := c.SFU
	switch s.Engine {
	case constants.EnginePion, constants.EngineMemory:
	default:
		return fmt.Errorf("invalid %s %q", constants.ENV_SFU_ENGINE, s.Engine)
	}
	switch s.Balancer {
	case constants.BalancerLeastLoaded, constants.BalancerRoundRobin:
	default:
		return fmt.Errorf("invalid %s %q", constants.ENV_SFU_BALANCER, s.Balancer)
	}
	if s.RtcMinPort <= 0 || s.RtcMaxPort > 65535 || s.RtcMinPort > s.RtcMaxPort {
		return fmt.Errorf("invalid rtc port range %d-%d", s.RtcMinPort, s.RtcMaxPort)
	}
	if s.Workers < 0 {
		return fmt.Errorf("invalid %s %d", constants.ENV_SFU_WORKERS, s.Workers)
	}
	if !s.EnableUDP && !s.EnableTCP {
		return fmt.Errorf("at least one of %s and %s must be enabled", constants.ENV_RTC_ENABLE_UDP, constants.ENV_RTC_ENABLE_TCP)
	}
	if s.OperationTimeout <= 0 {
		return fmt.Errorf("invalid %s %s", constants.ENV_SFU_OPERATION_TIMEOUT, s.OperationTimeout)
	}
	if err := mediaengine.ValidateCodecs(s.MediaCodecs); err != nil {
		return err
	}
	if c.Signaling.SendQueue <= 0 {
		return fmt.Errorf("invalid %s %d", constants.ENV_WS_SEND_QUEUE, c.Signaling.SendQueue)
	}
	return nil
}
