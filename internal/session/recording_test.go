package session_test

import (
	"errors"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
)

func (suite *SessionTestSuite) TestStartRecording() {
	// GOAL: Verify starting a recording resets counters, subscribes and announces START
	//
	// TEST SCENARIO: Connected, not recording, immediate send refused → recording, START pending, counters zero; next tick sends START

	suite.connect()
	suite.outbox.refuse = true

	err := suite.session.StartRecording()

	suite.Require().NoError(err)
	stats := suite.session.Stats()
	suite.Assert().True(stats.Recording)
	suite.Assert().True(stats.PendingFlags.Has(session.FlagStart), "START MUST be pending")
	suite.Assert().Zero(stats.Measured)
	suite.Assert().Zero(stats.Sent)
	suite.Assert().True(suite.sensor.subscribed)
	suite.Assert().Equal(protocol.DefaultSamplingRate, suite.sensor.rate)
	suite.Assert().Equal(10, suite.sensor.batch, "sensor MUST be subscribed with batches of 10")
	suite.Assert().Equal([]bool{true}, suite.events.recordings)

	suite.outbox.refuse = false
	suite.session.Tick()
	msg := suite.outbox.last()
	suite.Require().NotNil(msg)
	suite.Assert().True(msg.Has(protocol.KeyStart))
	suite.Assert().False(suite.session.PendingFlags().Has(session.FlagStart), "START MUST clear once sent")
}

func (suite *SessionTestSuite) TestRecordingIdempotence() {
	// GOAL: Verify repeated start/stop calls do not change state or flags
	//
	// TEST SCENARIO: start twice, stop twice → one subscribe, one unsubscribe, one message each

	suite.connect()

	suite.Require().NoError(suite.session.StartRecording())
	flags := suite.session.PendingFlags()
	sent := len(suite.outbox.accepted)

	suite.Require().NoError(suite.session.StartRecording())
	suite.Assert().Equal(flags, suite.session.PendingFlags(), "second start MUST NOT mutate flags")
	suite.Assert().Len(suite.outbox.accepted, sent, "second start MUST NOT send")
	suite.Assert().Equal(1, suite.sensor.subscribes)

	suite.session.StopRecording()
	flags = suite.session.PendingFlags()
	sent = len(suite.outbox.accepted)

	suite.session.StopRecording()
	suite.Assert().Equal(flags, suite.session.PendingFlags(), "second stop MUST NOT mutate flags")
	suite.Assert().Len(suite.outbox.accepted, sent, "second stop MUST NOT send")
	suite.Assert().Equal(1, suite.sensor.unsubscribes)
	suite.Assert().Equal([]bool{true, false}, suite.events.recordings)
}

func (suite *SessionTestSuite) TestStartRecordingSensorError() {
	// GOAL: Verify a sensor subscribe failure aborts the start
	//
	// TEST SCENARIO: Sensor refuses subscription → error returned, not recording, no flags

	suite.connect()
	suite.sensor.subscribeErr = errors.New("sensor offline")

	err := suite.session.StartRecording()

	suite.Assert().ErrorContains(err, "sensor offline")
	suite.Assert().False(suite.session.IsRecording())
	suite.Assert().False(suite.session.PendingFlags().Any())
	suite.Assert().Empty(suite.events.recordings)
}

func (suite *SessionTestSuite) TestSamplingRate() {
	// GOAL: Verify rate changes apply immediately when idle and are latched while recording
	//
	// TEST SCENARIO: set 25Hz idle → active; record, set 100Hz → still 25Hz; restart → 100Hz

	suite.Require().NoError(suite.session.SetSamplingRate(protocol.Rate25Hz))
	suite.Assert().Equal(protocol.Rate25Hz, suite.session.SamplingRate())

	suite.connect()
	suite.Require().NoError(suite.session.StartRecording())
	suite.Assert().Equal(protocol.Rate25Hz, suite.sensor.rate)

	suite.Require().NoError(suite.session.SetSamplingRate(protocol.Rate100Hz))
	suite.Assert().Equal(protocol.Rate25Hz, suite.session.SamplingRate(), "rate MUST stay latched while recording")

	suite.session.HandleSamples(batch(3))
	suite.session.Tick()
	rate, ok := suite.outbox.last().Get(protocol.KeySensorRate)
	suite.Require().True(ok)
	suite.Assert().Equal(uint32(25), rate.Uint(), "SENSOR_RATE MUST report the latched rate")

	suite.session.StopRecording()
	suite.Require().NoError(suite.session.StartRecording())
	suite.Assert().Equal(protocol.Rate100Hz, suite.session.SamplingRate())
	suite.Assert().Equal(protocol.Rate100Hz, suite.sensor.rate)

	err := suite.session.SetSamplingRate(protocol.SamplingRate(30))
	suite.Assert().ErrorIs(err, session.ErrInvalidRate)
}

func (suite *SessionTestSuite) TestSampleIngestion() {
	// GOAL: Verify measured/sent accounting and overflow behavior
	//
	// TEST SCENARIO: 600 samples into an empty 500-sample buffer while recording → measured 600, buffered 500, dropped 100

	suite.connectAndRecord()
	suite.outbox.refuse = true

	suite.session.HandleSamples(batch(600))

	stats := suite.session.Stats()
	suite.Assert().Equal(600, stats.Measured, "measured MUST advance by the full batch")
	suite.Assert().Equal(500, stats.Buffered, "buffer MUST be capped at capacity")
	suite.Assert().Equal(100, stats.Dropped)
	suite.Assert().Equal(0, stats.Sent)
	suite.Assert().Equal(600, suite.events.samples, "raw batch MUST reach the host")

	suite.session.HandleSamples(batch(10))
	stats = suite.session.Stats()
	suite.Assert().Equal(610, stats.Measured, "measured MUST advance even when full")
	suite.Assert().Equal(500, stats.Buffered)
}

func (suite *SessionTestSuite) TestSamplesIgnoredWhenIdle() {
	// GOAL: Verify samples are only buffered while recording
	//
	// TEST SCENARIO: Not recording, batch delivered → nothing buffered, host still sees the batch

	suite.connect()

	suite.session.HandleSamples(batch(10))

	stats := suite.session.Stats()
	suite.Assert().Zero(stats.Measured)
	suite.Assert().Zero(stats.Buffered)
	suite.Assert().Equal(10, suite.events.samples)
}

func (suite *SessionTestSuite) TestSensorSink() {
	// GOAL: Verify the sensor delivers into the session by default
	//
	// TEST SCENARIO: Start recording → sensor sink invoked → samples buffered

	suite.connectAndRecord()
	suite.Require().NotNil(suite.sensor.sink)

	suite.sensor.sink(batch(4))

	suite.Assert().Equal(4, suite.session.Stats().Buffered)
}
