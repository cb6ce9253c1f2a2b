package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/normanking/avatarchat/internal/bus"
)

func TestObserve_SessionsAndEvents(t *testing.T) {
	b := bus.NewEventBus()
	Attach(b)

	activeBefore := testutil.ToFloat64(ActiveSessions)
	textBefore := testutil.ToFloat64(ChatEvents.WithLabelValues("TEXT"))
	otherBefore := testutil.ToFloat64(StatusEvents.WithLabelValues(otherLabel))

	b.PublishSync(bus.NewEvent(bus.EventSessionStarted, "s1", nil))
	assert.Equal(t, activeBefore+1, testutil.ToFloat64(ActiveSessions))

	b.PublishSync(bus.NewEvent(bus.EventEngineChat, "s1", map[string]any{"chat_type": "TEXT"}))
	b.PublishSync(bus.NewEvent(bus.EventEngineStatus, "s1", map[string]any{"phase": "SOME_FUTURE_PHASE"}))
	assert.Equal(t, textBefore+1, testutil.ToFloat64(ChatEvents.WithLabelValues("TEXT")))
	assert.Equal(t, otherBefore+1, testutil.ToFloat64(StatusEvents.WithLabelValues(otherLabel)))

	b.PublishSync(bus.NewEvent(bus.EventSessionEnded, "s1", nil))
	assert.Equal(t, activeBefore, testutil.ToFloat64(ActiveSessions))
}

func TestObserve_InterruptsAndCommands(t *testing.T) {
	rejected := testutil.ToFloat64(InterruptDecisions.WithLabelValues("rejected"))
	approved := testutil.ToFloat64(InterruptDecisions.WithLabelValues("approved"))
	sendErrors := testutil.ToFloat64(Commands.WithLabelValues("sendText", "error"))

	Observe(bus.NewEvent(bus.EventInterruptRejected, "s1", map[string]any{"reason": "preparing"}))
	Observe(bus.NewEvent(bus.EventCommand, "s1", map[string]any{"command": "stopSpeech", "result": "ok"}))
	Observe(bus.NewEvent(bus.EventCommand, "s1", map[string]any{"command": "sendText", "result": "error"}))

	assert.Equal(t, rejected+1, testutil.ToFloat64(InterruptDecisions.WithLabelValues("rejected")))
	assert.Equal(t, approved+1, testutil.ToFloat64(InterruptDecisions.WithLabelValues("approved")))
	assert.Equal(t, sendErrors+1, testutil.ToFloat64(Commands.WithLabelValues("sendText", "error")))
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "VIDEO_CAN_PLAY", phaseLabel("VIDEO_CAN_PLAY"))
	assert.Equal(t, otherLabel, phaseLabel("x"))
	assert.Equal(t, "STT_RESULT", chatLabel("STT_RESULT"))
	assert.Equal(t, otherLabel, chatLabel(""))
}
