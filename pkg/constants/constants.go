package constants

import "time"

const (
	DefaultAddr             = ":3016"
	DefaultMode             = "development"
	DefaultEngine           = "pion"
	DefaultRtcMinPort       = 2000
	DefaultRtcMaxPort       = 2020
	DefaultListenIP         = "0.0.0.0"
	DefaultAnnouncedIP      = "127.0.0.1"
	DefaultOperationTimeout = 10 * time.Second
	DefaultWorkerDeathGrace = 2 * time.Second
	DefaultStatsSchedule    = "@every 1m"
	MinPortsPerWorker       = 4
)

const (
	EngineMemory = "memory"
	EnginePion   = "pion"
)

const (
	BalancerLeastLoaded = "least-loaded"
	BalancerRoundRobin  = "round-robin"
)

// VP8 start bitrate hint in kbps
const VideoStartBitrate = 1000

const (
	DefaultWSReadLimit    = 1 << 20
	DefaultWSWriteTimeout = 10 * time.Second
	DefaultWSPongWait     = 60 * time.Second
	DefaultWSPingInterval = 25 * time.Second
	DefaultWSSendQueue    = 256
)

// Env keys
const (
	ENV_ADDR                       = "ADDR"
	ENV_MODE                       = "MODE"
	ENV_SERVER_NAME                = "SERVER_NAME"
	ENV_SFU_ENGINE                 = "SFU_ENGINE"
	ENV_SFU_WORKERS                = "SFU_WORKERS"
	ENV_SFU_CONFIG_FILE            = "SFU_CONFIG_FILE"
	ENV_RTC_MIN_PORT               = "RTC_MIN_PORT"
	ENV_RTC_MAX_PORT               = "RTC_MAX_PORT"
	ENV_RTC_LISTEN_IP              = "RTC_LISTEN_IP"
	ENV_RTC_ANNOUNCED_IP           = "RTC_ANNOUNCED_IP"
	ENV_RTC_ENABLE_UDP             = "RTC_ENABLE_UDP"
	ENV_RTC_ENABLE_TCP             = "RTC_ENABLE_TCP"
	ENV_RTC_PREFER_UDP             = "RTC_PREFER_UDP"
	ENV_SFU_OPERATION_TIMEOUT      = "SFU_OPERATION_TIMEOUT"
	ENV_SFU_WORKER_DEATH_GRACE     = "SFU_WORKER_DEATH_GRACE"
	ENV_SFU_MAX_PEERS              = "SFU_MAX_PEERS"
	ENV_SFU_MAX_ROOM_PEERS         = "SFU_MAX_ROOM_PEERS"
	ENV_SFU_MAX_ROUTERS_PER_WORKER = "SFU_MAX_ROUTERS_PER_WORKER"
	ENV_SFU_BALANCER               = "SFU_BALANCER"
	ENV_SFU_STATS_SCHEDULE         = "SFU_STATS_SCHEDULE"
	ENV_WS_READ_LIMIT              = "WS_READ_LIMIT"
	ENV_WS_WRITE_TIMEOUT           = "WS_WRITE_TIMEOUT"
	ENV_WS_PONG_WAIT               = "WS_PONG_WAIT"
	ENV_WS_PING_INTERVAL           = "WS_PING_INTERVAL"
	ENV_WS_SEND_QUEUE              = "WS_SEND_QUEUE"
)
