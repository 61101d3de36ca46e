package session_test

import (
	"time"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
)

func heartbeat() []byte {
	return encode(func(m *protocol.Message) { m.PutUint8(protocol.KeyHeartbeat, 1) })
}

func (suite *SessionTestSuite) TestLiveness() {
	// GOAL: Verify silence beyond the timeout ends the connection
	//
	// TEST SCENARIO: Connected, peer silent → at 8s still connected, at 9s the next tick disconnects

	suite.Run("silence disconnects", func() {
		suite.SetupTest()
		suite.connect()

		suite.clock.Advance(8 * time.Second)
		suite.session.Tick()
		suite.Assert().True(suite.session.IsConnected(), "exactly the timeout MUST NOT disconnect")

		suite.clock.Advance(time.Second)
		suite.session.Tick()
		suite.Assert().False(suite.session.IsConnected(), "MUST disconnect after 9s of silence")
		suite.Assert().Equal(uint64(1), suite.session.Stats().DisconnectsBy(session.CauseSilence))
		suite.Assert().True(suite.session.PendingFlags().Has(session.FlagDisconnect))
	})

	suite.Run("inbound traffic keeps the session alive", func() {
		suite.SetupTest()
		suite.connect()

		for i := 0; i < 5; i++ {
			suite.clock.Advance(5 * time.Second)
			suite.session.HandleInbound(heartbeat())
			suite.session.Tick()
		}
		suite.Assert().True(suite.session.IsConnected())
	})

	suite.Run("undecodable traffic still counts", func() {
		suite.SetupTest()
		suite.connect()

		suite.clock.Advance(7 * time.Second)
		suite.session.HandleInbound([]byte{0xFF})
		suite.clock.Advance(7 * time.Second)
		suite.session.Tick()
		suite.Assert().True(suite.session.IsConnected())
	})
}

func (suite *SessionTestSuite) TestHeartbeat() {
	// GOAL: Verify heartbeat handling in both directions
	//
	// TEST SCENARIO: Inbound HEARTBEAT with app data → forwarded to the host, nothing echoed; local interval → HEARTBEAT flagged periodically

	suite.Run("inbound heartbeat is app data", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleInbound(encode(func(m *protocol.Message) {
			m.PutUint8(protocol.KeyHeartbeat, 1)
			m.PutCString(protocol.Key(5), "hello")
		}))
		suite.Assert().False(suite.session.PendingFlags().Any(), "HEARTBEAT MUST NOT be echoed")
		suite.Require().Len(suite.events.inbox, 1, "a message without control keys MUST reach the inbox callback")
		suite.Assert().True(suite.events.inbox[0].Has(protocol.KeyHeartbeat))
		t, ok := suite.events.inbox[0].Get(protocol.Key(5))
		suite.Require().True(ok)
		suite.Assert().Equal("hello", t.String())

		suite.session.Tick()
		suite.Assert().Empty(suite.outbox.accepted)
	})

	suite.Run("local heartbeat interval", func() {
		suite.SetupTest()
		suite.opts.HeartbeatInterval = time.Second
		suite.rebuild()

		suite.session.HandleInbound(connectRequest(appVersion, protocol.ProtocolVersion))
		suite.session.Tick()
		suite.Assert().True(suite.session.PendingFlags().Has(session.FlagHeartbeat), "first heartbeat MUST be scheduled on connect")
		suite.session.Tick()
		suite.Require().NotNil(suite.outbox.last())
		suite.Assert().True(suite.outbox.last().Has(protocol.KeyHeartbeat))

		suite.outbox.reset()
		suite.clock.Advance(500 * time.Millisecond)
		suite.session.Tick()
		suite.Assert().False(suite.session.PendingFlags().Any(), "MUST wait for the interval")

		suite.clock.Advance(500 * time.Millisecond)
		suite.session.Tick()
		suite.Assert().True(suite.session.PendingFlags().Has(session.FlagHeartbeat), "interval elapsed MUST flag HEARTBEAT")
		suite.session.Tick()
		suite.Require().Len(suite.outbox.accepted, 1)
		suite.Assert().True(suite.outbox.last().Has(protocol.KeyHeartbeat))
	})

	suite.Run("disabled by default", func() {
		suite.SetupTest()
		suite.connect()

		for i := 0; i < 5; i++ {
			suite.clock.Advance(time.Second)
			suite.session.Tick()
		}
		suite.Assert().Empty(suite.outbox.accepted)
	})
}

func (suite *SessionTestSuite) TestInboundDispatch() {
	// GOAL: Verify control keys are handled and everything else reaches the host
	//
	// TEST SCENARIO: Messages with and without control keys → only non-control messages forwarded

	suite.Run("non-control message is forwarded", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleInbound(encode(func(m *protocol.Message) {
			m.PutCString(protocol.Key(5), "hello")
		}))

		suite.Require().Len(suite.events.inbox, 1)
		t, ok := suite.events.inbox[0].Get(protocol.Key(5))
		suite.Require().True(ok)
		suite.Assert().Equal("hello", t.String())
	})

	suite.Run("start and stop from peer", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleInbound(encode(func(m *protocol.Message) { m.PutUint8(protocol.KeyStart, 1) }))
		suite.Assert().True(suite.session.IsRecording())

		suite.session.HandleInbound(encode(func(m *protocol.Message) { m.PutUint8(protocol.KeyStop, 1) }))
		suite.Assert().False(suite.session.IsRecording())
		suite.Assert().Empty(suite.events.inbox)
	})

	suite.Run("keys are applied in message order", func() {
		suite.SetupTest()

		suite.session.HandleInbound(encode(func(m *protocol.Message) {
			m.PutUint32(protocol.KeyConnect, protocol.VersionWord(appVersion, protocol.ProtocolVersion))
			m.PutUint8(protocol.KeyStart, 1)
		}))

		suite.Assert().True(suite.session.IsConnected())
		suite.Assert().True(suite.session.IsRecording())
		suite.Assert().Equal(uint16(1), suite.session.ConnectionID())
	})

	suite.Run("undecodable message is dropped", func() {
		suite.SetupTest()

		suite.session.HandleInbound([]byte{3, 1, 2})

		suite.Assert().Empty(suite.events.inbox)
		suite.Assert().False(suite.session.IsConnected())
	})
}
