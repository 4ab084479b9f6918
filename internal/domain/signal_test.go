package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_InitiateCall(t *testing.T) {
	targetID := uuid.New()
	callerID := uuid.New()

	raw := []byte(`{
		"event": "initiate-call",
		"data": {
			"call_type": "video",
			"target_id": "` + targetID.String() + `",
			"caller": {"id": "` + callerID.String() + `", "username": "alice"}
		}
	}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))

	payload, err := DecodeEvent(&env)
	require.NoError(t, err)

	initiate, ok := payload.(*InitiateCallPayload)
	require.True(t, ok)
	assert.Equal(t, CallTypeVideo, initiate.CallType)
	require.NotNil(t, initiate.TargetID)
	assert.Equal(t, targetID, *initiate.TargetID)
	assert.Equal(t, "alice", initiate.Caller.Username)
	assert.Nil(t, initiate.GroupID)
}

func TestDecodeEvent_SignalKeepsPayloadOpaque(t *testing.T) {
	callID := uuid.New()
	targetID := uuid.New()

	env := &Envelope{
		Event: EventWebRTCOffer,
		Data: json.RawMessage(`{
			"call_id": "` + callID.String() + `",
			"target_id": "` + targetID.String() + `",
			"payload": {"sdp": "v=0...", "type": "offer"}
		}`),
	}

	payload, err := DecodeEvent(env)
	require.NoError(t, err)

	signal, ok := payload.(*SignalPayload)
	require.True(t, ok)
	assert.Equal(t, callID, signal.CallID)
	require.NotNil(t, signal.TargetID)
	assert.Equal(t, targetID, *signal.TargetID)
	assert.JSONEq(t, `{"sdp": "v=0...", "type": "offer"}`, string(signal.Payload))
}

func TestDecodeEvent_UnknownEvent(t *testing.T) {
	env := &Envelope{Event: "mute-microphone", Data: json.RawMessage(`{}`)}

	_, err := DecodeEvent(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event")
}

func TestDecodeEvent_MalformedPayload(t *testing.T) {
	env := &Envelope{Event: EventEndCall, Data: json.RawMessage(`{"call_id": 42}`)}

	_, err := DecodeEvent(env)
	assert.Error(t, err)
}

func TestCallStatusIsTerminal(t *testing.T) {
	assert.False(t, CallStatusInitiated.IsTerminal())
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusActive.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusMissed.IsTerminal())
	assert.True(t, CallStatusDeclined.IsTerminal())
}
