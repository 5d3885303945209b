package sfu

import (
	"time"

	"github.com/LingByte/LingSFU/pkg/constants"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
)

// Config holds SFU configuration
type Config struct {
	NumWorkers          int    // 0 = logical CPU count bounded by the port range
	RtcMinPort          uint16 // first port handed to workers
	RtcMaxPort          uint16 // last port handed to workers
	ListenIP            string
	AnnouncedIP         string
	EnableUDP           bool
	EnableTCP           bool
	PreferUDP           bool
	MediaCodecs         []mediaengine.RtpCodecCapability
	OperationTimeout    time.Duration // bound on every engine call
	MaxPeers            int           // 0 = unlimited
	MaxRoomPeers        int           // 0 = unlimited
	MaxRoutersPerWorker int           // 0 = unlimited
	Balancer            string        // least-loaded | round-robin
	StatsSchedule       string        // cron spec, empty disables
}

// DefaultConfig mirrors the fixed process-wide media settings
func DefaultConfig() *Config {
	return &Config{
		RtcMinPort:       constants.DefaultRtcMinPort,
		RtcMaxPort:       constants.DefaultRtcMaxPort,
		ListenIP:         constants.DefaultListenIP,
		AnnouncedIP:      constants.DefaultAnnouncedIP,
		EnableUDP:        true,
		EnableTCP:        true,
		PreferUDP:        true,
		MediaCodecs:      mediaengine.DefaultMediaCodecs(),
		OperationTimeout: constants.DefaultOperationTimeout,
		Balancer:         constants.BalancerLeastLoaded,
		StatsSchedule:    constants.DefaultStatsSchedule,
	}
}

// normalize fills zero values with defaults without mutating c
func (c *Config) normalize() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.RtcMinPort == 0 || out.RtcMaxPort < out.RtcMinPort {
		out.RtcMinPort, out.RtcMaxPort = d.RtcMinPort, d.RtcMaxPort
	}
	if out.ListenIP == "" {
		out.ListenIP = d.ListenIP
	}
	if !out.EnableUDP && !out.EnableTCP {
		out.EnableUDP, out.EnableTCP, out.PreferUDP = d.EnableUDP, d.EnableTCP, d.PreferUDP
	}
	if len(out.MediaCodecs) == 0 {
		out.MediaCodecs = d.MediaCodecs
	}
	if out.OperationTimeout <= 0 {
		out.OperationTimeout = d.OperationTimeout
	}
	if out.Balancer == "" {
		out.Balancer = d.Balancer
	}
	return &out
}

func (c *Config) transportOptions(role string) mediaengine.WebRtcTransportOptions {
	return mediaengine.WebRtcTransportOptions{
		ListenIPs: []mediaengine.ListenIP{{IP: c.ListenIP, AnnouncedIP: c.AnnouncedIP}},
		EnableUDP: c.EnableUDP,
		EnableTCP: c.EnableTCP,
		PreferUDP: c.PreferUDP,
		AppData:   map[string]interface{}{"role": role},
	}
}
