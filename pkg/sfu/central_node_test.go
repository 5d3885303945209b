package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/mediaengine/memengine"
	"github.com/LingByte/LingSFU/pkg/metrics"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/LingByte/LingSFU/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindOf(err error) errors2.Kind {
	if err == nil {
		return ""
	}
	return ToAppError(err).Kind
}

func TestPublishSubscribe(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	recA, recB := &recorder{}, &recorder{}
	peerA := joinConnected(t, cn, "room-1", recA)
	peerB := joinConnected(t, cn, "room-1", recB)

	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)

	notes := recB.all(protocol.NotificationNewProducer)
	require.Len(t, notes, 1)
	assert.Equal(t, protocol.NewProducerNotification{
		ProducerID: producerID,
		PeerID:     peerA,
		Kind:       mediaengine.MediaKindVideo,
	}, notes[0])
	assert.Zero(t, recA.count(protocol.NotificationNewProducer), "producer owner is not notified")

	caps, err := cn.RtpCapabilities(peerB)
	require.NoError(t, err)
	consumer, err := cn.Consume(ctx, peerB, producerID, caps)
	require.NoError(t, err)
	assert.Equal(t, producerID, consumer.ProducerID)
	assert.Equal(t, mediaengine.MediaKindVideo, consumer.Kind)
	require.NotEmpty(t, consumer.RtpParameters.Encodings)

	consumers := peerConsumers(t, cn, peerB)
	require.Len(t, consumers, 1)
	assert.Equal(t, models.ConsumerStatePaused, consumers[0].State)
	assert.True(t, consumers[0].Engine.Paused())

	require.NoError(t, cn.ResumeConsumer(ctx, peerB, consumer.ID))
	assert.False(t, consumers[0].Engine.Paused())

	err = cn.ResumeConsumer(ctx, peerB, consumer.ID)
	require.Error(t, err)
	assert.Equal(t, errors2.KindStateError, kindOf(err))

	producers, err := cn.Producers(peerB)
	require.NoError(t, err)
	require.Len(t, producers, 1)
	assert.Equal(t, producerID, producers[0].ProducerID)

	own, err := cn.Producers(peerA)
	require.NoError(t, err)
	assert.Empty(t, own)
}

func TestJoin_SnapshotIncludesExistingProducers(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	peerA := joinConnected(t, cn, "room-1", &recorder{})
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindAudio, opusParams(), map[string]interface{}{"source": "mic"})
	require.NoError(t, err)

	peer, existing, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, producerID, existing[0].ProducerID)
	assert.Equal(t, peerA, existing[0].PeerID)
	assert.NotEqual(t, peerA, peer.ID)
}

func TestConsume_IncompatibleCapabilities(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-1", &recorder{})
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)

	h264Only := mediaengine.RtpCapabilities{Codecs: []mediaengine.RtpCodecCapability{{
		Kind:                 mediaengine.MediaKindVideo,
		MimeType:             "video/H264",
		ClockRate:            90000,
		PreferredPayloadType: 102,
		Parameters:           map[string]interface{}{"packetization-mode": 1},
	}}}
	_, err = cn.Consume(ctx, peerB, producerID, h264Only)
	require.ErrorIs(t, err, ErrCannotConsume)
	assert.Equal(t, errors2.KindNegotiationError, kindOf(err))
	assert.Empty(t, peerConsumers(t, cn, peerB))
}

func TestConsume_UnknownProducer(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	peerB := joinConnected(t, cn, "room-1", &recorder{})
	caps, err := cn.RtpCapabilities(peerB)
	require.NoError(t, err)

	_, err = cn.Consume(context.Background(), peerB, "no-such-producer", caps)
	require.ErrorIs(t, err, ErrProducerNotFound)
	assert.Equal(t, errors2.KindNegotiationError, kindOf(err))
}

func TestConsume_ProducerInAnotherRoom(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-2", &recorder{})
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)

	caps, err := cn.RtpCapabilities(peerB)
	require.NoError(t, err)
	_, err = cn.Consume(ctx, peerB, producerID, caps)
	assert.ErrorIs(t, err, ErrProducerNotFound)
}

func TestTransportStateErrors(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)

	_, err = cn.Produce(ctx, peer.ID, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.ErrorIs(t, err, ErrTransportNotConnected)
	assert.Equal(t, errors2.KindStateError, kindOf(err))

	info, err := cn.CreateWebRtcTransport(ctx, peer.ID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.NotEmpty(t, info.IceParameters.UsernameFragment)
	assert.NotEmpty(t, info.IceCandidates)
	assert.NotEmpty(t, info.DtlsParameters.Fingerprints)

	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, true)
	require.ErrorIs(t, err, ErrTransportExists)
	assert.Equal(t, errors2.KindStateError, kindOf(err))

	_, err = cn.Produce(ctx, peer.ID, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.ErrorIs(t, err, ErrTransportNotConnected)

	require.NoError(t, cn.ConnectTransport(ctx, peer.ID, true, connectOpts()))
	err = cn.ConnectTransport(ctx, peer.ID, true, connectOpts())
	require.ErrorIs(t, err, ErrTransportAlreadyConnected)
	assert.Equal(t, errors2.KindStateError, kindOf(err))

	err = cn.ConnectTransport(ctx, peer.ID, false, connectOpts())
	assert.ErrorIs(t, err, ErrTransportNotFound)
}

func TestConnect_EngineFailureAllowsRetry(t *testing.T) {
	cn, engine := newTestNode(t, nil)
	ctx := context.Background()

	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)
	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, false)
	require.NoError(t, err)

	engine.InjectFailure(memengine.OpConnect, errors.New("ice failure"))
	err = cn.ConnectTransport(ctx, peer.ID, false, connectOpts())
	require.ErrorIs(t, err, ErrEngineFailure)
	assert.Equal(t, models.TransportStateCreated, peerTransport(t, cn, peer.ID, models.RoleConsumer).State)

	require.NoError(t, cn.ConnectTransport(ctx, peer.ID, false, connectOpts()))
	assert.Eventually(t, func() bool {
		return transportState(t, cn, peer.ID, models.RoleConsumer) == models.TransportStateConnected
	}, time.Second, 10*time.Millisecond)
}

func TestConnect_ConnectedOnlyAfterHandshake(t *testing.T) {
	cn, engine := newTestNode(t, nil)
	engine.HoldHandshake(true)
	ctx := context.Background()

	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)
	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, true)
	require.NoError(t, err)
	require.NoError(t, cn.ConnectTransport(ctx, peer.ID, true, connectOpts()))

	// the engine returned before DTLS finished
	assert.Equal(t, models.TransportStateConnecting, transportState(t, cn, peer.ID, models.RoleProducer))
	err = cn.ConnectTransport(ctx, peer.ID, true, connectOpts())
	assert.ErrorIs(t, err, ErrTransportAlreadyConnected)

	// an accepted connect is enough to set up media
	producerID, err := cn.Produce(ctx, peer.ID, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, producerID)
	assert.Equal(t, models.TransportStateConnecting, transportState(t, cn, peer.ID, models.RoleProducer))

	tr := peerTransport(t, cn, peer.ID, models.RoleProducer)
	tr.Engine.(*memengine.Transport).SimulateDtlsState(mediaengine.DtlsStateConnected)
	assert.Eventually(t, func() bool {
		return transportState(t, cn, peer.ID, models.RoleProducer) == models.TransportStateConnected
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, peerProducers(t, cn, peer.ID), 1)
}

func TestConnect_HandshakeFailureBeforeConnected(t *testing.T) {
	cn, engine := newTestNode(t, nil)
	engine.HoldHandshake(true)
	ctx := context.Background()

	rec := &recorder{}
	peer, _, err := cn.Join(ctx, "room-1", rec)
	require.NoError(t, err)
	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, false)
	require.NoError(t, err)
	require.NoError(t, cn.ConnectTransport(ctx, peer.ID, false, connectOpts()))

	tr := peerTransport(t, cn, peer.ID, models.RoleConsumer)
	tr.Engine.(*memengine.Transport).SimulateDtlsState(mediaengine.DtlsStateFailed)
	assert.Eventually(t, func() bool {
		return peerTransport(t, cn, peer.ID, models.RoleConsumer) == nil
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return rec.count(protocol.NotificationTransportClosed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCloseTransport_CascadesToDependents(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	recA, recB := &recorder{}, &recorder{}
	peerA := joinConnected(t, cn, "room-1", recA)
	peerB := joinConnected(t, cn, "room-1", recB)

	video, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)
	audio, err := cn.Produce(ctx, peerA, mediaengine.MediaKindAudio, opusParams(), nil)
	require.NoError(t, err)

	caps, err := cn.RtpCapabilities(peerB)
	require.NoError(t, err)
	for _, id := range []string{video, audio} {
		_, err := cn.Consume(ctx, peerB, id, caps)
		require.NoError(t, err)
	}

	require.NoError(t, cn.CloseTransport(peerA, true))

	assert.Nil(t, peerTransport(t, cn, peerA, models.RoleProducer))
	assert.Empty(t, peerProducers(t, cn, peerA))
	assert.Eventually(t, func() bool {
		return len(peerConsumers(t, cn, peerB)) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return recB.count(protocol.NotificationConsumerClosed) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, recA.count(protocol.NotificationTransportClosed), "requested closes are not notified")

	room, _ := cn.GetRoom("room-1")
	assert.Zero(t, room.ProducerCount())
	assert.Zero(t, room.Router.(*memengine.Router).ProducerCount())

	err = cn.CloseTransport(peerA, true)
	assert.ErrorIs(t, err, ErrTransportNotFound)
}

func TestCloseConsumerTransport_NoNotification(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	recB := &recorder{}
	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-1", recB)
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)
	caps, _ := cn.RtpCapabilities(peerB)
	_, err = cn.Consume(ctx, peerB, producerID, caps)
	require.NoError(t, err)

	require.NoError(t, cn.CloseTransport(peerB, false))
	assert.Empty(t, peerConsumers(t, cn, peerB))
	assert.Len(t, peerProducers(t, cn, peerA), 1, "producer survives its consumers")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, recB.count(protocol.NotificationConsumerClosed))
}

func TestDisconnect_ClosesRemoteConsumersOnce(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	recB := &recorder{}
	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-1", recB)

	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)
	caps, _ := cn.RtpCapabilities(peerB)
	consumer, err := cn.Consume(ctx, peerB, producerID, caps)
	require.NoError(t, err)

	cn.Leave(peerA, "socket closed")

	_, ok := cn.GetPeer(peerA)
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		return recB.count(protocol.NotificationConsumerClosed) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, protocol.ConsumerClosedNotification{
		ConsumerID: consumer.ID,
		ProducerID: producerID,
	}, recB.all(protocol.NotificationConsumerClosed)[0])
	assert.Empty(t, peerConsumers(t, cn, peerB))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, recB.count(protocol.NotificationConsumerClosed))

	room, ok := cn.GetRoom("room-1")
	require.True(t, ok)
	assert.Equal(t, []string{peerB}, room.Members())

	// leaving twice is harmless
	cn.Leave(peerA, "again")
}

func TestCloseProducer_NotifiesConsumers(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	recB := &recorder{}
	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-1", recB)
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)
	caps, _ := cn.RtpCapabilities(peerB)
	_, err = cn.Consume(ctx, peerB, producerID, caps)
	require.NoError(t, err)

	require.NoError(t, cn.CloseProducer(peerA, producerID))
	assert.Eventually(t, func() bool {
		return recB.count(protocol.NotificationConsumerClosed) == 1
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, cn.CloseProducer(peerA, producerID), ErrProducerNotFound)
	producers, err := cn.Producers(peerB)
	require.NoError(t, err)
	assert.Empty(t, producers)
}

func TestPauseResume(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	peerA := joinConnected(t, cn, "room-1", &recorder{})
	peerB := joinConnected(t, cn, "room-1", &recorder{})
	producerID, err := cn.Produce(ctx, peerA, mediaengine.MediaKindAudio, opusParams(), nil)
	require.NoError(t, err)

	require.NoError(t, cn.PauseProducer(ctx, peerA, producerID))
	assert.Equal(t, errors2.KindStateError, kindOf(cn.PauseProducer(ctx, peerA, producerID)))
	require.NoError(t, cn.ResumeProducer(ctx, peerA, producerID))
	assert.Equal(t, errors2.KindStateError, kindOf(cn.ResumeProducer(ctx, peerA, producerID)))

	caps, _ := cn.RtpCapabilities(peerB)
	consumer, err := cn.Consume(ctx, peerB, producerID, caps)
	require.NoError(t, err)

	assert.Equal(t, errors2.KindStateError, kindOf(cn.PauseConsumer(ctx, peerB, consumer.ID)), "consumers start paused")
	require.NoError(t, cn.ResumeConsumer(ctx, peerB, consumer.ID))
	require.NoError(t, cn.PauseConsumer(ctx, peerB, consumer.ID))

	require.NoError(t, cn.CloseConsumer(peerB, consumer.ID))
	assert.ErrorIs(t, cn.ResumeConsumer(ctx, peerB, consumer.ID), ErrConsumerNotFound)
	assert.ErrorIs(t, cn.CloseConsumer(peerB, consumer.ID), ErrConsumerNotFound)
}

func TestRouterLifetimeFollowsMembership(t *testing.T) {
	cn, engine := newTestNode(t, nil)
	ctx := context.Background()

	_, ok := cn.GetRoom("room-1")
	assert.False(t, ok)

	peerA, _, err := cn.Join(ctx, "room-1", nil)
	require.NoError(t, err)
	peerB, _, err := cn.Join(ctx, "room-1", nil)
	require.NoError(t, err)

	room, ok := cn.GetRoom("room-1")
	require.True(t, ok)
	firstRouter := room.Router.ID()
	assert.Len(t, cn.Rooms(), 1)

	cn.Leave(peerA.ID, "bye")
	_, ok = cn.GetRoom("room-1")
	assert.True(t, ok, "room stays while a member remains")

	cn.Leave(peerB.ID, "bye")
	_, ok = cn.GetRoom("room-1")
	assert.False(t, ok)
	assert.True(t, room.Router.Closed())
	routers := 0
	for _, w := range engine.Workers() {
		routers += w.RouterCount()
	}
	assert.Zero(t, routers)

	_, _, err = cn.Join(ctx, "room-1", nil)
	require.NoError(t, err)
	again, ok := cn.GetRoom("room-1")
	require.True(t, ok)
	assert.NotEqual(t, firstRouter, again.Router.ID())
}

func TestJoin_Limits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRoomPeers = 1
	cfg.MaxPeers = 2
	cn, _ := newTestNode(t, cfg)
	ctx := context.Background()

	_, _, err := cn.Join(ctx, "", nil)
	assert.Equal(t, errors2.KindInvalidInput, kindOf(err))

	_, _, err = cn.Join(ctx, "room-1", nil)
	require.NoError(t, err)
	_, _, err = cn.Join(ctx, "room-1", nil)
	require.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, errors2.KindResourceExhausted, kindOf(err))

	_, _, err = cn.Join(ctx, "room-2", nil)
	require.NoError(t, err)
	_, _, err = cn.Join(ctx, "room-3", nil)
	require.ErrorIs(t, err, ErrServerFull)
	assert.Equal(t, 2, cn.Snapshot().Peers)
}

func TestConcurrentPeersNeverShareTransports(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	const peers = 16

	var (
		mu  sync.Mutex
		ids = make(map[string]string)
		wg  sync.WaitGroup
	)
	errs := make(chan error, peers)
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			peer, _, err := cn.Join(ctx, "party", &recorder{})
			if err != nil {
				errs <- err
				return
			}
			for _, sender := range []bool{true, false} {
				info, err := cn.CreateWebRtcTransport(ctx, peer.ID, sender)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if owner, dup := ids[info.ID]; dup {
					errs <- fmt.Errorf("transport %s shared by %s and %s", info.ID, owner, peer.ID)
				}
				ids[info.ID] = peer.ID
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, ids, 2*peers)
	rooms := cn.Rooms()
	require.Len(t, rooms, 1)
	assert.Len(t, rooms[0].Peers, peers)
}

func TestTimeout_ClosesLateObjects(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 30 * time.Millisecond
	cn, engine := newTestNode(t, cfg)
	ctx := context.Background()

	peerID := joinConnected(t, cn, "room-1", &recorder{})
	room, _ := cn.GetRoom("room-1")
	router := room.Router.(*memengine.Router)

	engine.SetLatency(80 * time.Millisecond)
	_, err := cn.Produce(ctx, peerID, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, errors2.KindTimeout, kindOf(err))
	assert.Empty(t, peerProducers(t, cn, peerID))
	// the engine finishes at 80ms; its producer is closed once it arrives
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, router.ProducerCount(), "producer returned after the deadline is closed")

	engine.SetLatency(0)
	_, err = cn.Produce(ctx, peerID, mediaengine.MediaKindVideo, vp8Params(), nil)
	assert.NoError(t, err)
}

func TestTimeout_ConnectClosesTransport(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 30 * time.Millisecond
	cn, engine := newTestNode(t, cfg)
	ctx := context.Background()

	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)
	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, true)
	require.NoError(t, err)

	engine.SetLatency(80 * time.Millisecond)
	err = cn.ConnectTransport(ctx, peer.ID, true, connectOpts())
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, peerTransport(t, cn, peer.ID, models.RoleProducer))

	engine.SetLatency(0)
	_, err = cn.CreateWebRtcTransport(ctx, peer.ID, true)
	assert.NoError(t, err, "the role slot is free again")
}

func TestTimeout_DoesNotStallRoom(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 30 * time.Millisecond
	cn, engine := newTestNode(t, cfg)
	ctx := context.Background()

	engine.SetLatency(500 * time.Millisecond)
	start := time.Now()
	_, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 300*time.Millisecond, "join returns at the deadline")

	engine.SetLatency(0)
	start = time.Now()
	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond, "room lock released at the deadline")
	_, ok := cn.GetPeer(peer.ID)
	assert.True(t, ok)
}

func TestLeaveDuringInFlightOperation(t *testing.T) {
	cn, engine := newTestNode(t, nil)
	ctx := context.Background()

	peer, _, err := cn.Join(ctx, "room-1", &recorder{})
	require.NoError(t, err)

	engine.SetLatency(100 * time.Millisecond)
	result := make(chan error, 1)
	go func() {
		_, err := cn.CreateWebRtcTransport(ctx, peer.ID, true)
		result <- err
	}()
	time.Sleep(30 * time.Millisecond)
	cn.Leave(peer.ID, "socket closed")

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrPeerClosed)
		assert.Equal(t, errors2.KindStateError, kindOf(err))
	case <-time.After(time.Second):
		t.Fatal("in-flight operation did not finish")
	}
	_, ok := cn.GetRoom("room-1")
	assert.False(t, ok)
}

func TestDtlsFailure_ClosesTransport(t *testing.T) {
	cn, _ := newTestNode(t, nil)
	ctx := context.Background()

	rec := &recorder{}
	peerID := joinConnected(t, cn, "room-1", rec)
	_, err := cn.Produce(ctx, peerID, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)

	tr := peerTransport(t, cn, peerID, models.RoleProducer)
	tr.Engine.(*memengine.Transport).SimulateDtlsState(mediaengine.DtlsStateFailed)

	assert.Eventually(t, func() bool {
		return peerTransport(t, cn, peerID, models.RoleProducer) == nil
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return rec.count(protocol.NotificationTransportClosed) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, protocol.TransportClosedNotification{TransportID: tr.ID},
		rec.all(protocol.NotificationTransportClosed)[0])
	assert.Empty(t, peerProducers(t, cn, peerID))
	assert.NotNil(t, peerTransport(t, cn, peerID, models.RoleConsumer))
}

func TestWorkerDeath(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 1
	fatal := make(chan error, 1)
	m := metrics.New()
	cn, engine := newTestNode(t, cfg, WithMetrics(m), WithFatalHandler(func(err error) { fatal <- err }))
	ctx := context.Background()

	rec := &recorder{}
	peerID := joinConnected(t, cn, "room-1", rec)

	engine.Workers()[0].Kill(errors.New("worker crashed"))

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, ErrWorkerDied)
	case <-time.After(time.Second):
		t.Fatal("fatal handler not invoked")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerDeaths))

	room, ok := cn.GetRoom("room-1")
	require.True(t, ok)
	assert.Error(t, room.Unusable())
	assert.Eventually(t, func() bool {
		return rec.count(protocol.NotificationTransportClosed) == 2
	}, time.Second, 10*time.Millisecond)

	_, err := cn.CreateWebRtcTransport(ctx, peerID, true)
	require.ErrorIs(t, err, ErrRoomUnusable)
	assert.Equal(t, errors2.KindEngineFailure, kindOf(err))

	_, _, err = cn.Join(ctx, "room-2", nil)
	require.ErrorIs(t, err, ErrNoWorkerAvailable)
	assert.Equal(t, errors2.KindResourceExhausted, kindOf(err))

	snap := cn.Snapshot()
	assert.Equal(t, 0, snap.WorkersAlive)
	assert.Equal(t, 1, snap.WorkersDead)
}

func TestMetricsTrackObjects(t *testing.T) {
	m := metrics.New()
	cn, _ := newTestNode(t, nil, WithMetrics(m))
	ctx := context.Background()

	peerA := joinConnected(t, cn, "room-1", &recorder{})
	_, err := cn.Produce(ctx, peerA, mediaengine.MediaKindVideo, vp8Params(), nil)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Peers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transports.WithLabelValues("producer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Producers.WithLabelValues("video")))

	cn.Leave(peerA, "bye")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Peers))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Transports.WithLabelValues("producer")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Producers.WithLabelValues("video")))
}
