package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the single active payload variant of an Envelope.
type Type string

const (
	TypeLoginRequest           Type = "login_request"
	TypeLoginResponse          Type = "login_response"
	TypeRegistrationRequest    Type = "registration_request"
	TypeRegistrationResponse   Type = "registration_response"
	TypeChangePasswordRequest  Type = "change_password_request"
	TypeChangePasswordResponse Type = "change_password_response"
	TypeChangeUsernameRequest  Type = "change_username_request"
	TypeChangeUsernameResponse Type = "change_username_response"
	TypePublicMessage          Type = "public_message"
	TypePrivateMessageRequest  Type = "private_message_request"
	TypeRoomOperationRequest   Type = "room_operation_request"
	TypeRoomOperationResponse  Type = "room_operation_response"
	TypeHistoryRequest         Type = "history_request"
	TypeHistoryResponse        Type = "history_response"
	TypeMessageBroadcast       Type = "message_broadcast"
	TypeServerNotification     Type = "server_notification"
	TypeErrorResponse          Type = "error_response"
)

// RoomOp enumerates room operations.
type RoomOp int32

const (
	RoomOpJoin   RoomOp = 0
	RoomOpLeave  RoomOp = 1
	RoomOpCreate RoomOp = 2
)

// UserEvent enumerates server notification events.
type UserEvent string

const (
	EventUserJoined UserEvent = "USER_JOINED"
	EventUserLeft   UserEvent = "USER_LEFT"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

type RegistrationRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegistrationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ChangeUsernameRequest struct {
	NewUsername string `json:"new_username"`
}

type ChangeUsernameResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PublicMessage struct {
	Content string `json:"content"`
}

type PrivateMessageRequest struct {
	ToUsername string `json:"to_username"`
	Content    string `json:"content"`
}

type RoomOperationRequest struct {
	Operation RoomOp `json:"operation"`
	RoomName  string `json:"room_name"`
}

type RoomOperationResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Operation RoomOp `json:"operation"`
	RoomName  string `json:"room_name"`
}

type HistoryRequest struct {
	RoomName string `json:"room_name"`
	Limit    int32  `json:"limit"`
}

// HistoryMessage is one persisted message returned by a history request,
// enriched with the sender's current username.
type HistoryMessage struct {
	FromUserID   int64     `json:"from_user_id"`
	FromUsername string    `json:"from_username"`
	Content      string    `json:"content"`
	RoomName     string    `json:"room_name"`
	Timestamp    time.Time `json:"timestamp"`
}

type HistoryResponse struct {
	RoomName string           `json:"room_name"`
	Messages []HistoryMessage `json:"messages"`
}

type MessageBroadcast struct {
	FromUserID   int64     `json:"from_user_id"`
	FromUsername string    `json:"from_username"`
	Content      string    `json:"content"`
	RoomName     string    `json:"room_name"`
	Timestamp    time.Time `json:"timestamp"`
}

type ServerNotification struct {
	Event    UserEvent `json:"event"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    int32  `json:"code"`
}

// Envelope is the single wire-level message. Exactly one payload field is
// non-nil, and Type names it.
type Envelope struct {
	Type Type `json:"type"`

	LoginRequest           *LoginRequest           `json:"login_request,omitempty"`
	LoginResponse          *LoginResponse          `json:"login_response,omitempty"`
	RegistrationRequest    *RegistrationRequest    `json:"registration_request,omitempty"`
	RegistrationResponse   *RegistrationResponse   `json:"registration_response,omitempty"`
	ChangePasswordRequest  *ChangePasswordRequest  `json:"change_password_request,omitempty"`
	ChangePasswordResponse *ChangePasswordResponse `json:"change_password_response,omitempty"`
	ChangeUsernameRequest  *ChangeUsernameRequest  `json:"change_username_request,omitempty"`
	ChangeUsernameResponse *ChangeUsernameResponse `json:"change_username_response,omitempty"`
	PublicMessage          *PublicMessage          `json:"public_message,omitempty"`
	PrivateMessageRequest  *PrivateMessageRequest  `json:"private_message_request,omitempty"`
	RoomOperationRequest   *RoomOperationRequest   `json:"room_operation_request,omitempty"`
	RoomOperationResponse  *RoomOperationResponse  `json:"room_operation_response,omitempty"`
	HistoryRequest         *HistoryRequest         `json:"history_request,omitempty"`
	HistoryResponse        *HistoryResponse        `json:"history_response,omitempty"`
	MessageBroadcast       *MessageBroadcast       `json:"message_broadcast,omitempty"`
	ServerNotification     *ServerNotification     `json:"server_notification,omitempty"`
	ErrorResponse          *ErrorResponse          `json:"error_response,omitempty"`
}

// payload returns the populated variant for the envelope's declared type.
func (e *Envelope) payload() any {
	switch e.Type {
	case TypeLoginRequest:
		if e.LoginRequest != nil {
			return e.LoginRequest
		}
	case TypeLoginResponse:
		if e.LoginResponse != nil {
			return e.LoginResponse
		}
	case TypeRegistrationRequest:
		if e.RegistrationRequest != nil {
			return e.RegistrationRequest
		}
	case TypeRegistrationResponse:
		if e.RegistrationResponse != nil {
			return e.RegistrationResponse
		}
	case TypeChangePasswordRequest:
		if e.ChangePasswordRequest != nil {
			return e.ChangePasswordRequest
		}
	case TypeChangePasswordResponse:
		if e.ChangePasswordResponse != nil {
			return e.ChangePasswordResponse
		}
	case TypeChangeUsernameRequest:
		if e.ChangeUsernameRequest != nil {
			return e.ChangeUsernameRequest
		}
	case TypeChangeUsernameResponse:
		if e.ChangeUsernameResponse != nil {
			return e.ChangeUsernameResponse
		}
	case TypePublicMessage:
		if e.PublicMessage != nil {
			return e.PublicMessage
		}
	case TypePrivateMessageRequest:
		if e.PrivateMessageRequest != nil {
			return e.PrivateMessageRequest
		}
	case TypeRoomOperationRequest:
		if e.RoomOperationRequest != nil {
			return e.RoomOperationRequest
		}
	case TypeRoomOperationResponse:
		if e.RoomOperationResponse != nil {
			return e.RoomOperationResponse
		}
	case TypeHistoryRequest:
		if e.HistoryRequest != nil {
			return e.HistoryRequest
		}
	case TypeHistoryResponse:
		if e.HistoryResponse != nil {
			return e.HistoryResponse
		}
	case TypeMessageBroadcast:
		if e.MessageBroadcast != nil {
			return e.MessageBroadcast
		}
	case TypeServerNotification:
		if e.ServerNotification != nil {
			return e.ServerNotification
		}
	case TypeErrorResponse:
		if e.ErrorResponse != nil {
			return e.ErrorResponse
		}
	}
	return nil
}

// Validate checks that the envelope declares a known type and carries the
// matching payload.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrProtocol)
	}
	if e.payload() == nil {
		return fmt.Errorf("%w: no payload for type %q", ErrProtocol, e.Type)
	}
	return nil
}

// DecodeEnvelope parses a frame body into an Envelope.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// NewError builds an error-response envelope.
func NewError(message string, code int32) *Envelope {
	return &Envelope{
		Type:          TypeErrorResponse,
		ErrorResponse: &ErrorResponse{Message: message, Code: code},
	}
}
