package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/mediaengine/memengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"github.com/LingByte/LingSFU/pkg/sfu"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

type testEnv struct {
	node   *sfu.CentralNode
	server *Server
	url    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := sfu.DefaultConfig()
	cfg.NumWorkers = 1
	cfg.StatsSchedule = ""
	node := sfu.NewCentralNode("test", cfg, memengine.New(), zap.NewNop())
	require.NoError(t, node.Start(context.Background()))

	srv := NewServer(node, DefaultConfig(), zap.NewNop(), metrics.New())
	r := gin.New()
	r.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		node.Close()
	})
	return &testEnv{node: node, server: srv, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

type envelope struct {
	Response     bool                `json:"response"`
	Notification bool                `json:"notification"`
	ID           uint32              `json:"id"`
	Method       string              `json:"method"`
	OK           bool                `json:"ok"`
	Data         json.RawMessage     `json:"data"`
	Error        *protocol.ErrorBody `json:"error"`
}

type wsPeer struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID uint32
	notes  []envelope
}

func (e *testEnv) dial(t *testing.T) *wsPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsPeer{t: t, conn: conn}
}

func (p *wsPeer) read() envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	var env envelope
	require.NoError(p.t, json.Unmarshal(data, &env))
	return env
}

// call sends a JSON request and returns its response, keeping notifications
// that arrive first.
func (p *wsPeer) call(method string, data interface{}) envelope {
	p.t.Helper()
	p.nextID++
	id := p.nextID
	msg := map[string]interface{}{"request": true, "id": id, "method": method}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(p.t, p.conn.WriteJSON(msg))
	for {
		env := p.read()
		if env.Notification {
			p.notes = append(p.notes, env)
			continue
		}
		if env.Response && env.ID == id {
			return env
		}
	}
}

func (p *wsPeer) mustCall(method string, data interface{}, out interface{}) {
	p.t.Helper()
	env := p.call(method, data)
	require.True(p.t, env.OK, "%s failed: %+v", method, env.Error)
	if out != nil {
		require.NoError(p.t, json.Unmarshal(env.Data, out))
	}
}

func (p *wsPeer) waitNotification(method string) envelope {
	p.t.Helper()
	for i, n := range p.notes {
		if n.Method == method {
			p.notes = append(p.notes[:i], p.notes[i+1:]...)
			return n
		}
	}
	for {
		env := p.read()
		if env.Notification && env.Method == method {
			return env
		}
		if env.Notification {
			p.notes = append(p.notes, env)
		}
	}
}

var dtls = map[string]interface{}{
	"role":         "client",
	"fingerprints": []interface{}{map[string]interface{}{"algorithm": "sha-256", "value": "AB:CD"}},
}

func (p *wsPeer) setup(roomID string) protocol.JoinResponse {
	p.t.Helper()
	var join protocol.JoinResponse
	p.mustCall(protocol.MethodJoin, protocol.JoinRequest{RoomID: roomID}, &join)
	for _, sender := range []bool{true, false} {
		var tr protocol.TransportResponse
		p.mustCall(protocol.MethodCreateWebRtcTransport, protocol.CreateTransportRequest{Sender: sender}, &tr)
		require.NotEmpty(p.t, tr.ID)
		method := protocol.MethodTransportConnect
		if !sender {
			method = protocol.MethodTransportRecvConnect
		}
		p.mustCall(method, map[string]interface{}{"dtlsParameters": dtls}, nil)
	}
	return join
}

func TestSignaling_PublishSubscribe(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.dial(t), env.dial(t)

	joinA := a.setup("room-1")
	joinB := b.setup("room-1")
	assert.NotEqual(t, joinA.PeerID, joinB.PeerID)
	assert.Empty(t, joinB.Producers)

	var produced protocol.IDResponse
	a.mustCall(protocol.MethodTransportProduce, map[string]interface{}{
		"kind": "video",
		"rtpParameters": map[string]interface{}{
			"codecs": []interface{}{map[string]interface{}{"mimeType": "video/VP8", "payloadType": 96, "clockRate": 90000}},
		},
	}, &produced)
	require.NotEmpty(t, produced.ID)

	note := b.waitNotification(protocol.NotificationNewProducer)
	var np protocol.NewProducerNotification
	require.NoError(t, json.Unmarshal(note.Data, &np))
	assert.Equal(t, produced.ID, np.ProducerID)
	assert.Equal(t, joinA.PeerID, np.PeerID)
	assert.Equal(t, mediaengine.MediaKindVideo, np.Kind)

	var caps protocol.RtpCapabilitiesResponse
	b.mustCall(protocol.MethodGetRtpCapabilities, nil, &caps)
	require.NotEmpty(t, caps.RtpCapabilities.Codecs)

	var consumed protocol.ConsumeResponse
	b.mustCall(protocol.MethodConsume, protocol.ConsumeRequest{
		ProducerID:      produced.ID,
		RtpCapabilities: caps.RtpCapabilities,
	}, &consumed)
	assert.Equal(t, produced.ID, consumed.ProducerID)
	assert.Equal(t, mediaengine.MediaKindVideo, consumed.Kind)

	b.mustCall(protocol.MethodConsumerResume, protocol.ConsumerRequest{ConsumerID: consumed.ID}, nil)
	again := b.call(protocol.MethodConsumerResume, protocol.ConsumerRequest{ConsumerID: consumed.ID})
	require.False(t, again.OK)
	assert.Equal(t, string(errors2.KindStateError), again.Error.Kind)

	var listed protocol.ProducersResponse
	b.mustCall(protocol.MethodGetProducers, nil, &listed)
	require.Len(t, listed.Producers, 1)

	a.mustCall(protocol.MethodProducerClose, protocol.ProducerRequest{ProducerID: produced.ID}, nil)
	closed := b.waitNotification(protocol.NotificationConsumerClosed)
	var cc protocol.ConsumerClosedNotification
	require.NoError(t, json.Unmarshal(closed.Data, &cc))
	assert.Equal(t, consumed.ID, cc.ConsumerID)
	assert.Equal(t, produced.ID, cc.ProducerID)
}

func TestSignaling_ErrorResponses(t *testing.T) {
	env := newTestEnv(t)
	p := env.dial(t)

	resp := p.call("teleport", nil)
	require.False(t, resp.OK)
	assert.Equal(t, string(errors2.ErrCodeUnknownMethod), resp.Error.Code)
	assert.Equal(t, string(errors2.KindInvalidInput), resp.Error.Kind)

	resp = p.call(protocol.MethodGetRtpCapabilities, nil)
	require.False(t, resp.OK)
	assert.Equal(t, string(errors2.ErrCodeNotJoined), resp.Error.Code)

	resp = p.call(protocol.MethodJoin, "not an object")
	require.False(t, resp.OK)
	assert.Equal(t, string(errors2.ErrCodeInvalidInput), resp.Error.Code)

	p.mustCall(protocol.MethodJoin, protocol.JoinRequest{RoomID: "room-1"}, nil)
	resp = p.call(protocol.MethodJoin, protocol.JoinRequest{RoomID: "room-2"})
	require.False(t, resp.OK)
	assert.Equal(t, string(errors2.ErrCodeAlreadyJoined), resp.Error.Code)

	resp = p.call(protocol.MethodTransportProduce, map[string]interface{}{"kind": "video"})
	require.False(t, resp.OK)
	assert.Equal(t, string(errors2.KindStateError), resp.Error.Kind)

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	bad := p.read()
	require.True(t, bad.Response)
	assert.False(t, bad.OK)
	assert.Equal(t, string(errors2.ErrCodeInvalidMessage), bad.Error.Code)
}

func TestSignaling_MsgPack(t *testing.T) {
	env := newTestEnv(t)
	p := env.dial(t)

	frame, err := msgpack.Marshal(map[string]interface{}{
		"request": true,
		"id":      1,
		"method":  protocol.MethodJoin,
		"data":    map[string]interface{}{"roomId": "binary-room"},
	})
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteMessage(websocket.BinaryMessage, frame))

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := p.conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)

	var out map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(data, &out))
	assert.Equal(t, true, out["ok"])
	body, ok := out["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "binary-room", body["roomId"])
	assert.NotEmpty(t, body["peerId"])
}

func TestSignaling_DisconnectRemovesPeer(t *testing.T) {
	env := newTestEnv(t)
	p := env.dial(t)
	join := p.setup("room-1")

	_, ok := env.node.GetPeer(join.PeerID)
	require.True(t, ok)

	require.NoError(t, p.conn.Close())
	assert.Eventually(t, func() bool {
		_, ok := env.node.GetPeer(join.PeerID)
		return !ok && len(env.node.Rooms()) == 0 && env.server.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_NotifyDropsWhenQueueFull(t *testing.T) {
	m := metrics.New()
	c := newClient(nil, Config{SendQueue: 1}, nil, zap.NewNop(), m)

	c.Notify(protocol.NotificationTransportClosed, protocol.TransportClosedNotification{TransportID: "t1"})
	c.Notify(protocol.NotificationTransportClosed, protocol.TransportClosedNotification{TransportID: "t2"})

	assert.Len(t, c.send, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsDropped))

	f := <-c.send
	assert.Equal(t, websocket.TextMessage, f.typ)
	assert.Contains(t, string(f.data), `"transportId":"t1"`)

	c.close()
	c.Notify(protocol.NotificationTransportClosed, protocol.TransportClosedNotification{TransportID: "t3"})
	assert.Empty(t, c.send)
}
