package session_test

import (
	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
)

func failedMessage(resend int, extra ...func(m *protocol.Message)) []byte {
	return encode(func(m *protocol.Message) {
		m.PutUint32(protocol.KeySensorOffset, 40)
		m.PutBytes(protocol.KeySensorData, []byte{1, 0, 2, 0, 3, 0})
		if resend >= 0 {
			m.PutUint8(protocol.KeyResend, uint8(resend))
		}
		for _, fn := range extra {
			fn(m)
		}
	})
}

func (suite *SessionTestSuite) TestDeliveryFailure() {
	// GOAL: Verify asynchronous delivery failures are queued, escalated or ignored
	//
	// TEST SCENARIO: Various failure reports → resend queue and connection state follow the retry policy

	suite.Run("benign reason is ignored entirely", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleFailure(failedMessage(-1), session.ReasonSendRejected)

		suite.Assert().Zero(suite.session.Stats().ResendDepth)
		suite.Assert().Empty(suite.events.failures, "benign failures MUST NOT be forwarded")
		suite.Assert().Equal(uint64(1), suite.session.Stats().Ignored)
	})

	suite.Run("benign set is configurable", func() {
		suite.SetupTest()
		suite.opts.BenignFailures = []session.FailureReason{}
		suite.rebuild()
		suite.connect()

		suite.session.HandleFailure(failedMessage(-1), session.ReasonSendRejected)

		suite.Assert().Equal(1, suite.session.Stats().ResendDepth)
		suite.Assert().Len(suite.events.failures, 1)
	})

	suite.Run("first failure is queued and resent with counter 0", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleFailure(failedMessage(-1, func(m *protocol.Message) {
			m.PutUint8(protocol.Key(99), 1)
		}), session.ReasonSendTimeout)

		suite.Assert().Equal(1, suite.session.Stats().ResendDepth)
		suite.Require().Len(suite.events.failures, 1, "failure MUST be forwarded to the host")
		suite.Assert().Equal(session.ReasonSendTimeout, suite.events.failures[0].reason)

		suite.session.Tick()
		msg := suite.outbox.last()
		suite.Require().NotNil(msg)
		counter, ok := msg.Get(protocol.KeyResend)
		suite.Require().True(ok)
		suite.Assert().Equal(uint32(0), counter.Uint(), "first resend MUST carry 0")
		suite.Assert().True(msg.Has(protocol.KeySensorData), "reserved tuples MUST be copied")
		suite.Assert().False(msg.Has(protocol.Key(99)), "foreign tuples MUST NOT be copied")
		suite.Assert().Zero(suite.session.Stats().ResendDepth, "accepted resend MUST leave the queue")
	})

	suite.Run("counter at ceiling is still retried", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleFailure(failedMessage(5), session.ReasonSendTimeout)

		suite.Assert().True(suite.session.IsConnected())
		suite.Assert().Equal(1, suite.session.Stats().ResendDepth)

		suite.session.Tick()
		counter, _ := suite.outbox.last().Get(protocol.KeyResend)
		suite.Assert().Equal(uint32(6), counter.Uint())
	})

	suite.Run("counter above ceiling forces disconnect", func() {
		suite.SetupTest()
		suite.connect()

		suite.session.HandleFailure(failedMessage(6), session.ReasonSendTimeout)

		suite.Assert().False(suite.session.IsConnected(), "MUST disconnect when retries are exhausted")
		suite.Assert().Zero(suite.session.Stats().ResendDepth, "exhausted message MUST NOT be queued")
		suite.Assert().Equal(uint64(1), suite.session.Stats().DisconnectsBy(session.CauseRetryExhausted))
		suite.Assert().Len(suite.events.failures, 1)
	})

	suite.Run("queue overflow forces disconnect", func() {
		suite.SetupTest()
		suite.connect()
		suite.outbox.refuse = true

		for i := 0; i < 10; i++ {
			suite.session.HandleFailure(failedMessage(-1), session.ReasonSendTimeout)
		}
		suite.Require().True(suite.session.IsConnected())
		suite.Require().Equal(10, suite.session.Stats().ResendDepth)

		suite.session.HandleFailure(failedMessage(-1), session.ReasonSendTimeout)

		suite.Assert().False(suite.session.IsConnected())
		suite.Assert().Equal(uint64(1), suite.session.Stats().DisconnectsBy(session.CauseResendOverflow))
		suite.Assert().Zero(suite.session.Stats().ResendDepth)
	})

	suite.Run("not connected is forwarded but not queued", func() {
		suite.SetupTest()

		suite.session.HandleFailure(failedMessage(-1), session.ReasonNotConnected)

		suite.Assert().Zero(suite.session.Stats().ResendDepth)
		suite.Assert().Len(suite.events.failures, 1)
	})
}

func (suite *SessionTestSuite) TestResendPriority() {
	// GOAL: Verify resends go out most-recent-first and block other traffic in their tick
	//
	// TEST SCENARIO: Two failures A then B with samples buffered → B resent, then A, then samples

	suite.connectAndRecord()
	suite.session.HandleSamples(batch(5))

	a := encode(func(m *protocol.Message) { m.PutUint32(protocol.KeySensorOffset, 1) })
	b := encode(func(m *protocol.Message) { m.PutUint32(protocol.KeySensorOffset, 2) })
	suite.session.HandleFailure(a, session.ReasonSendTimeout)
	suite.session.HandleFailure(b, session.ReasonSendTimeout)

	suite.session.Tick()
	suite.session.Tick()
	suite.session.Tick()

	msgs := suite.outbox.messages()
	suite.Require().Len(msgs, 3)

	first, _ := msgs[0].Get(protocol.KeySensorOffset)
	second, _ := msgs[1].Get(protocol.KeySensorOffset)
	suite.Assert().Equal(uint32(2), first.Uint(), "latest failure MUST be retried first")
	suite.Assert().Equal(uint32(1), second.Uint())
	suite.Assert().False(msgs[0].Has(protocol.KeySensorData), "resend tick MUST NOT carry new samples")
	suite.Assert().Equal(5, sampleCount(msgs[2]))
	suite.Assert().Equal(uint64(2), suite.session.Stats().Resent)
}

func (suite *SessionTestSuite) TestResendRefused() {
	// GOAL: Verify a refused resend stays queued
	//
	// TEST SCENARIO: Queued failure, transport refuses → entry kept; accepted later → removed

	suite.connect()
	suite.session.HandleFailure(failedMessage(-1), session.ReasonSendTimeout)
	suite.outbox.refuse = true

	suite.session.Tick()
	suite.Assert().Equal(1, suite.session.Stats().ResendDepth)

	suite.outbox.refuse = false
	suite.session.Tick()
	suite.Assert().Zero(suite.session.Stats().ResendDepth)
}
