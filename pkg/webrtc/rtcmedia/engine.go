// Package rtcmedia is the pion/webrtc media engine. Each transport is an
// ICE-lite gatherer, ICE transport and DTLS transport driven through pion's
// ORTC API; producers are RTP receivers whose packets are rewritten onto
// the static RTP tracks of their consumers.
package rtcmedia

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/LingByte/LingSFU/pkg/logger"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/utils"
	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const tcpReadBufferSize = 8

// Engine creates pion workers. A worker is a port range plus the pion
// settings derived from it; there is no child process to lose.
type Engine struct {
	logger *zap.Logger
}

var _ mediaengine.Engine = (*Engine)(nil)

func New(l *zap.Logger) *Engine {
	return &Engine{logger: logger.Named(l, "rtcmedia")}
}

func (e *Engine) CreateWorker(ctx context.Context, settings mediaengine.WorkerSettings) (mediaengine.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if settings.RtcMinPort == 0 || settings.RtcMaxPort < settings.RtcMinPort {
		return nil, fmt.Errorf("%w: port range %d-%d", mediaengine.ErrInvalidParameters, settings.RtcMinPort, settings.RtcMaxPort)
	}
	id := utils.NewObjectID()
	l := e.logger.With(zap.String("worker_id", id))
	w := &Worker{
		id:       id,
		settings: settings,
		logger:   l,
		pion:     pionFactory(l, settings.LogLevel),
		routers:  make(map[string]*Router),
		died:     make(chan struct{}),
	}
	l.Info("worker started",
		zap.Uint16("rtc_min_port", settings.RtcMinPort),
		zap.Uint16("rtc_max_port", settings.RtcMaxPort))
	return w, nil
}

// pionFactory scopes pion's loggers to the worker's configured level
func pionFactory(l *zap.Logger, level string) logging.LoggerFactory {
	if level == "none" {
		return logger.NewPionFactory(zap.NewNop())
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		l = l.WithOptions(zap.IncreaseLevel(lvl))
	}
	return logger.NewPionFactory(l)
}

type Worker struct {
	id       string
	settings mediaengine.WorkerSettings
	logger   *zap.Logger
	pion     logging.LoggerFactory

	mu      sync.Mutex
	closed  bool
	routers map[string]*Router
	tcpMux  ice.TCPMux // closes its listener

	died chan struct{}
}

var _ mediaengine.Worker = (*Worker)(nil)

func (w *Worker) ID() string { return w.id }

// Died never fires: pion runs inside this process.
func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error { return nil }

func (w *Worker) Settings() mediaengine.WorkerSettings { return w.settings }

func (w *Worker) CreateRouter(ctx context.Context, codecs []mediaengine.RtpCodecCapability) (mediaengine.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps, err := mediaengine.GenerateRouterRtpCapabilities(codecs)
	if err != nil {
		return nil, err
	}
	me, err := newMediaEngine(caps)
	if err != nil {
		return nil, err
	}
	r := &Router{
		id:         utils.NewObjectID(),
		worker:     w,
		caps:       caps,
		media:      me,
		payloads:   make(map[uint8]bool, len(caps.Codecs)),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	for _, c := range caps.Codecs {
		r.payloads[c.PreferredPayloadType] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, mediaengine.ErrClosed
	}
	w.routers[r.id] = r
	return r, nil
}

// RouterCount returns the number of open routers
func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

// settingEngine builds the pion settings for one transport
func (w *Worker) settingEngine(opts mediaengine.WebRtcTransportOptions) (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{LoggerFactory: w.pion}
	se.SetLite(true)
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	if err := se.SetEphemeralUDPPortRange(w.settings.RtcMinPort, w.settings.RtcMaxPort); err != nil {
		return se, fmt.Errorf("%w: %w", mediaengine.ErrInvalidParameters, err)
	}

	var (
		listen    []net.IP
		nat       []string
		networks  []webrtc.NetworkType
		anyListen bool
		ipv6      bool
	)
	for _, lip := range opts.ListenIPs {
		ip := net.ParseIP(lip.IP)
		if ip == nil {
			return se, fmt.Errorf("%w: listen ip %q", mediaengine.ErrInvalidParameters, lip.IP)
		}
		if ip.IsUnspecified() {
			anyListen = true
		} else {
			listen = append(listen, ip)
		}
		if ip.To4() == nil {
			ipv6 = true
		}
		switch {
		case lip.AnnouncedIP == "":
		case ip.IsUnspecified():
			nat = append(nat, lip.AnnouncedIP)
		default:
			nat = append(nat, lip.AnnouncedIP+"/"+lip.IP)
		}
	}
	if !anyListen {
		se.SetIPFilter(func(ip net.IP) bool {
			for _, l := range listen {
				if l.Equal(ip) {
					return true
				}
			}
			return false
		})
	}
	if len(nat) > 0 {
		se.SetNAT1To1IPs(nat, webrtc.ICECandidateTypeHost)
	}

	if opts.EnableUDP {
		networks = append(networks, webrtc.NetworkTypeUDP4)
		if ipv6 {
			networks = append(networks, webrtc.NetworkTypeUDP6)
		}
	}
	if opts.EnableTCP {
		mux, err := w.ensureTCPMux(opts.ListenIPs[0].IP)
		if err != nil {
			if !opts.EnableUDP {
				return se, err
			}
			w.logger.Warn("tcp candidates disabled", zap.Error(err))
		} else {
			se.SetICETCPMux(mux)
			networks = append(networks, webrtc.NetworkTypeTCP4)
			if ipv6 {
				networks = append(networks, webrtc.NetworkTypeTCP6)
			}
		}
	}
	se.SetNetworkTypes(networks)
	return se, nil
}

// ensureTCPMux lazily binds the worker's passive TCP listener on the first
// port of its range. UDP and TCP port spaces do not collide.
func (w *Worker) ensureTCPMux(ip string) (ice.TCPMux, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, mediaengine.ErrClosed
	}
	if w.tcpMux != nil {
		return w.tcpMux, nil
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(int(w.settings.RtcMinPort)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen ice tcp %s: %w", addr, err)
	}
	w.tcpMux = webrtc.NewICETCPMux(w.pion.NewLogger("ice-tcp"), ln, tcpReadBufferSize)
	return w.tcpMux, nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	mux := w.tcpMux
	w.mu.Unlock()

	for _, r := range routers {
		r.shutdown()
	}
	if mux != nil {
		_ = mux.Close()
	}
	w.logger.Info("worker closed")
	return nil
}
