package ws

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/metrics"
)

func init() {
	logger.InitDefault()
}

// Errors go back to the sender as a call-error envelope carrying the
// taxonomy code as a plain string
func TestSendErrorDeliversCodeAndMessage(t *testing.T) {
	g := &Gateway{metrics: metrics.NewMetrics("call-service-test")}
	client := &Client{
		gateway: g,
		send:    make(chan []byte, 1),
		userID:  uuid.New(),
	}

	client.sendError(apperrors.UnauthorizedError("identity does not match authenticated user"))

	var frame []byte
	select {
	case frame = <-client.send:
	default:
		t.Fatal("no call-error frame queued")
	}

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, domain.EventCallError, env.Event)

	var payload domain.CallErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, string(apperrors.ErrCodeUnauthorized), payload.Code)
	assert.Equal(t, "identity does not match authenticated user", payload.Message)
}

// A full send buffer drops the event with an error instead of blocking
func TestSendEventFullBufferDoesNotBlock(t *testing.T) {
	client := &Client{
		gateway: &Gateway{},
		send:    make(chan []byte),
		userID:  uuid.New(),
	}

	err := client.SendEvent(domain.EventCallEnded, &domain.CallEndedPayload{
		CallID: uuid.New(),
	})
	assert.Error(t, err)
}
