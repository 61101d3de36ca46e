package loopback

import (
	"context"
	"time"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
	"github.com/srg/motionlink/internal/session"
)

func encoded(build func(m *protocol.Message)) []byte {
	m := protocol.NewMessage()
	build(m)
	b, err := protocol.Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func (suite *LinkTestSuite) runPeer(opts PeerOptions) *Peer {
	peer := NewPeer(suite.link, opts, suite.link.logger)
	ctx, cancel := context.WithCancel(context.Background())
	suite.T().Cleanup(cancel)
	go peer.Run(ctx)
	return peer
}

func (suite *LinkTestSuite) TestPeerCommands() {
	// GOAL: Verify peer commands arrive at the device as encoded control messages
	//
	// TEST SCENARIO: Connect, Start, Heartbeat → three Received payloads with CONNECT version word, START, HEARTBEAT

	peer := NewPeer(suite.link, PeerOptions{AppVersion: 7}, suite.link.logger)
	suite.Require().NoError(peer.Connect())
	suite.Require().NoError(peer.Start())
	suite.Require().NoError(peer.Heartbeat())

	suite.events.mu.Lock()
	received := append([][]byte(nil), suite.events.received...)
	suite.events.mu.Unlock()
	suite.Require().Len(received, 3)

	connect, err := protocol.Decode(received[0])
	suite.Require().NoError(err)
	word, ok := connect.Get(protocol.KeyConnect)
	suite.Require().True(ok)
	suite.Assert().Equal(protocol.VersionWord(7, protocol.ProtocolVersion), word.Uint())

	start, err := protocol.Decode(received[1])
	suite.Require().NoError(err)
	suite.Assert().True(start.Has(protocol.KeyStart))

	hb, err := protocol.Decode(received[2])
	suite.Require().NoError(err)
	suite.Assert().True(hb.Has(protocol.KeyHeartbeat))
}

func (suite *LinkTestSuite) TestPeerDecodesDeviceMessages() {
	// GOAL: Verify the peer tracks acks, samples, STOP totals and DISCONNECT
	//
	// TEST SCENARIO: Device sends ack id 3, then samples, then STOP+DISCONNECT → peer state reflects each

	peer := suite.runPeer(PeerOptions{})

	suite.Require().NoError(suite.link.Submit(encoded(func(m *protocol.Message) {
		m.PutUint32(protocol.KeyConnect, protocol.AckWord(3))
		m.PutBytes(protocol.KeyMetadata, []byte(`{"a":1}`))
	})))
	suite.Require().Eventually(func() bool { return peer.ConnectionID() == 3 }, time.Second, time.Millisecond)
	suite.Assert().Equal([]byte(`{"a":1}`), peer.Metadata())

	samples := []samplebuf.Sample{{X: 1, Y: 2, Z: 3}, {X: -1, Y: -2, Z: -3}}
	suite.Require().Eventually(func() bool { return suite.link.InFlight() == 0 }, time.Second, time.Millisecond)
	suite.Require().NoError(suite.link.Submit(encoded(func(m *protocol.Message) {
		m.PutBytes(protocol.KeySensorData, samplebuf.AppendPacked(nil, samples))
	})))
	suite.Require().NoError(suite.link.Submit(encoded(func(m *protocol.Message) {
		m.PutBytes(protocol.KeyStop, []byte{2, 0, 0, 0, 5, 0, 0, 0})
		m.PutUint16(protocol.KeyDisconnect, 3)
	})))

	suite.Require().Eventually(peer.Disconnected, time.Second, time.Millisecond)
	suite.Assert().Equal(samples, peer.Samples())
	sent, measured, ok := peer.StopTotals()
	suite.Require().True(ok)
	suite.Assert().Equal(int32(2), sent)
	suite.Assert().Equal(int32(5), measured)

	frames, failed := peer.Counts()
	suite.Assert().Equal(3, frames)
	suite.Assert().Zero(failed)
	suite.Assert().Len(peer.Messages(), 3)
}

func (suite *LinkTestSuite) TestPeerRefusal() {
	// GOAL: Verify a version echo is recognised as a refused connect
	//
	// TEST SCENARIO: Device answers CONNECT with its version word → Refused, no connection id

	peer := suite.runPeer(PeerOptions{})
	suite.Require().NoError(suite.link.Submit(encoded(func(m *protocol.Message) {
		m.PutUint32(protocol.KeyConnect, protocol.VersionWord(1, protocol.ProtocolVersion))
	})))

	suite.Require().Eventually(peer.Refused, time.Second, time.Millisecond)
	suite.Assert().Zero(peer.ConnectionID())
}

func (suite *LinkTestSuite) TestPeerFailEvery() {
	// GOAL: Verify the peer fails every n-th frame with the configured reason
	//
	// TEST SCENARIO: FailEvery 2 → second frame comes back as a Busy failure

	peer := suite.runPeer(PeerOptions{FailEvery: 2, FailReason: session.ReasonBusy})
	suite.Require().NoError(suite.link.Submit([]byte{0}))
	suite.Require().NoError(suite.link.Submit([]byte{0}))

	suite.Require().Eventually(func() bool {
		suite.events.mu.Lock()
		defer suite.events.mu.Unlock()
		return len(suite.events.failures) == 1
	}, time.Second, time.Millisecond)

	frames, failed := peer.Counts()
	suite.Assert().Equal(2, frames)
	suite.Assert().Equal(1, failed)
	suite.events.mu.Lock()
	defer suite.events.mu.Unlock()
	suite.Assert().Equal(session.ReasonBusy, suite.events.failures[0].reason)
}
