package sfu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/mediaengine/memengine"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notification struct {
	method string
	data   interface{}
}

// recorder is a models.Notifier that keeps everything it receives
type recorder struct {
	mu    sync.Mutex
	notes []notification
}

func (r *recorder) Notify(method string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification{method: method, data: data})
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.method == method {
			n++
		}
	}
	return n
}

func (r *recorder) all(method string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, note := range r.notes {
		if note.method == method {
			out = append(out, note.data)
		}
	}
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.StatsSchedule = ""
	cfg.OperationTimeout = 2 * time.Second
	return cfg
}

func newTestNode(t *testing.T, cfg *Config, opts ...Option) (*CentralNode, *memengine.Engine) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	engine := memengine.New()
	cn := NewCentralNode("test-node", cfg, engine, zap.NewNop(), opts...)
	require.NoError(t, cn.Start(context.Background()))
	t.Cleanup(cn.Close)
	return cn, engine
}

var clientDtls = mediaengine.DtlsParameters{
	Role:         mediaengine.DtlsRoleClient,
	Fingerprints: []mediaengine.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD:EF"}},
}

func connectOpts() mediaengine.ConnectOptions {
	return mediaengine.ConnectOptions{DtlsParameters: clientDtls}
}

func vp8Params() mediaengine.RtpParameters {
	return mediaengine.RtpParameters{
		Codecs: []mediaengine.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
	}
}

func opusParams() mediaengine.RtpParameters {
	return mediaengine.RtpParameters{
		Codecs: []mediaengine.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
	}
}

// joinConnected joins roomID and brings up both transports
func joinConnected(t *testing.T, cn *CentralNode, roomID string, n models.Notifier) string {
	t.Helper()
	ctx := context.Background()
	peer, _, err := cn.Join(ctx, roomID, n)
	require.NoError(t, err)
	for _, sender := range []bool{true, false} {
		_, err := cn.CreateWebRtcTransport(ctx, peer.ID, sender)
		require.NoError(t, err)
		require.NoError(t, cn.ConnectTransport(ctx, peer.ID, sender, connectOpts()))
	}
	return peer.ID
}

func peerConsumers(t *testing.T, cn *CentralNode, peerID string) []*models.Consumer {
	t.Helper()
	peer, ok := cn.GetPeer(peerID)
	require.True(t, ok)
	peer.Lock()
	defer peer.Unlock()
	return peer.Consumers()
}

func peerProducers(t *testing.T, cn *CentralNode, peerID string) []*models.Producer {
	t.Helper()
	peer, ok := cn.GetPeer(peerID)
	require.True(t, ok)
	peer.Lock()
	defer peer.Unlock()
	return peer.Producers()
}

func peerTransport(t *testing.T, cn *CentralNode, peerID string, role models.TransportRole) *models.Transport {
	t.Helper()
	peer, ok := cn.GetPeer(peerID)
	require.True(t, ok)
	peer.Lock()
	defer peer.Unlock()
	return peer.Transport(role)
}

// transportState reads the state of the peer's transport for role under the
// peer lock. A missing transport reads as closed.
func transportState(t *testing.T, cn *CentralNode, peerID string, role models.TransportRole) models.TransportState {
	t.Helper()
	peer, ok := cn.GetPeer(peerID)
	require.True(t, ok)
	peer.Lock()
	defer peer.Unlock()
	tr := peer.Transport(role)
	if tr == nil {
		return models.TransportStateClosed
	}
	return tr.State
}
