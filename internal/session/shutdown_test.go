package session_test

import (
	"time"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
)

func (suite *SessionTestSuite) TestShutdown() {
	// GOAL: Verify shutdown announces STOP and DISCONNECT and drains within its retry budget
	//
	// TEST SCENARIO: Connected and recording → Shutdown → STOP and DISCONNECT sent, host not notified, later calls ignored

	suite.Run("flushes stop and disconnect", func() {
		suite.SetupTest()
		suite.connectAndRecord()
		suite.session.HandleSamples(batch(8))

		suite.session.Shutdown()

		msg := suite.outbox.last()
		suite.Require().NotNil(msg)
		suite.Assert().True(msg.Has(protocol.KeyStop))
		suite.Assert().True(msg.Has(protocol.KeyDisconnect))
		suite.Assert().Equal(8, sampleCount(msg), "buffered samples MUST go out with the final message")
		suite.Assert().False(suite.session.PendingFlags().Any())
		suite.Assert().Empty(suite.clock.sleeps, "no retries needed when the first send is accepted")
		suite.Assert().Equal([]bool{true}, suite.events.recordings, "host callbacks MUST be detached before draining")
		suite.Assert().False(suite.sensor.subscribed)
		suite.Assert().Equal(uint64(1), suite.session.Stats().DisconnectsBy(session.CauseShutdown))

		sent := len(suite.outbox.accepted)
		suite.session.HandleSamples(batch(3))
		suite.session.HandleInbound(heartbeat())
		suite.session.Tick()
		suite.Assert().Len(suite.outbox.accepted, sent, "closed session MUST NOT send")
		suite.Assert().ErrorIs(suite.session.StartRecording(), session.ErrClosed)
	})

	suite.Run("drain retries are bounded", func() {
		suite.SetupTest()
		suite.connect()
		suite.outbox.refuse = true

		suite.session.Shutdown()

		suite.Assert().Equal(6, suite.outbox.refused, "MUST attempt one send plus five retries")
		suite.Assert().Equal([]time.Duration{
			50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond,
			50 * time.Millisecond, 50 * time.Millisecond,
		}, suite.clock.sleeps)
	})

	suite.Run("truncated data delays disconnect across retries", func() {
		suite.SetupTest()
		suite.outbox.maxPayload = 200
		suite.connectAndRecord()
		suite.session.HandleSamples(batch(60))

		suite.session.Shutdown()

		msgs := suite.outbox.messages()
		suite.Require().Len(msgs, 3, "60 samples at 23 per message MUST take three sends")
		suite.Assert().False(msgs[0].Has(protocol.KeyDisconnect))
		suite.Assert().False(msgs[1].Has(protocol.KeyDisconnect))
		suite.Assert().True(msgs[2].Has(protocol.KeyDisconnect))
		suite.Assert().Len(suite.clock.sleeps, 1)
	})

	suite.Run("queued resends do not starve the disconnect", func() {
		suite.SetupTest()
		suite.connect()
		for i := 0; i < 8; i++ {
			suite.session.HandleFailure(failedMessage(-1), session.ReasonSendTimeout)
		}
		suite.Require().Equal(8, suite.session.Stats().ResendDepth)

		suite.session.Shutdown()

		suite.Require().Len(suite.outbox.accepted, 1, "MUST NOT spend the drain on resends")
		msg := suite.outbox.last()
		suite.Assert().True(msg.Has(protocol.KeyDisconnect), "DISCONNECT MUST go out on shutdown")
		suite.Assert().False(msg.Has(protocol.KeyResend))
		suite.Assert().Zero(suite.session.Stats().ResendDepth)
		suite.Assert().Empty(suite.clock.sleeps)
	})
}
