package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		env  *Envelope
	}{
		{
			name: "room operation request",
			env: &Envelope{
				Type:                 TypeRoomOperationRequest,
				RoomOperationRequest: &RoomOperationRequest{Operation: RoomOpCreate, RoomName: "lobby"},
			},
		},
		{
			name: "message broadcast",
			env: &Envelope{
				Type: TypeMessageBroadcast,
				MessageBroadcast: &MessageBroadcast{
					FromUserID:   7,
					FromUsername: "alice",
					Content:      "hi",
					RoomName:     "lobby",
					Timestamp:    ts,
				},
			},
		},
		{
			name: "server notification",
			env: &Envelope{
				Type: TypeServerNotification,
				ServerNotification: &ServerNotification{
					Event:    EventUserLeft,
					UserID:   7,
					Username: "alice",
					Message:  "User alice has left the room.",
				},
			},
		},
		{
			name: "history response",
			env: &Envelope{
				Type: TypeHistoryResponse,
				HistoryResponse: &HistoryResponse{
					RoomName: "lobby",
					Messages: []HistoryMessage{
						{FromUserID: 7, FromUsername: "alice", Content: "hi", RoomName: "lobby", Timestamp: ts},
					},
				},
			},
		},
		{
			name: "error response",
			env:  NewError("Authentication required.", 401),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(tt.env)
			require.NoError(t, err)

			decoded, err := DecodeEnvelope(frame[HeaderLength:])
			require.NoError(t, err)
			assert.Equal(t, tt.env, decoded)
		})
	}
}

func TestDecodeEnvelopeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{{{"},
		{name: "missing type", body: `{"login_request":{"username":"a","password":"b"}}`},
		{name: "payload type mismatch", body: `{"type":"login_request","public_message":{"content":"hi"}}`},
		{name: "unknown type", body: `{"type":"teleport_request"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestValidateRequiresMatchingPayload(t *testing.T) {
	env := &Envelope{Type: TypeLoginRequest}
	assert.ErrorIs(t, env.Validate(), ErrProtocol)

	env.LoginRequest = &LoginRequest{Username: "a"}
	assert.NoError(t, env.Validate())
}
