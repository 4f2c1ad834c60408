package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/edufund/supportchat/backend/internal/apperr"
)

// Inbound events.
const (
	EventAuth       = "auth"
	EventJoin       = "join_conversation"
	EventLeave      = "leave_conversation"
	EventSend       = "message:send"
	EventMarkRead   = "message:read"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// Outbound events. Message lifecycle events are named in package messages.
const (
	EventAuthSuccess  = "auth_success"
	EventAuthError    = "auth_error"
	EventJoined       = "joined"
	EventLeft         = "left"
	EventAck          = "ack"
	EventNotification = "message:notification"
	EventPresence     = "presence"
	EventError        = "error"
)

// Frame is the websocket envelope in both directions.
type Frame struct {
	Type string          `json:"type" validate:"required,oneof=auth join_conversation leave_conversation message:send message:read typing stop_typing"`
	Ref  string          `json:"ref,omitempty" validate:"max=64"`
	Data json.RawMessage `json:"data,omitempty"`
}

type AuthData struct {
	Token string `json:"token" validate:"required"`
}

type RoomData struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

type SendData struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	ReceiverID     string `json:"receiverId" validate:"max=128"`
	Message        string `json:"message" validate:"required"`
}

type ReadData struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

type ackData struct {
	Ref     string `json:"ref,omitempty"`
	Message any    `json:"message"`
}

type errorData struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type typingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Email          string `json:"email,omitempty"`
}

type presenceData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

var validate = validator.New()

// decode parses and validates one inbound frame. The returned payload is one
// of the *Data types above, chosen by the frame type.
func decode(raw []byte) (Frame, any, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, nil, fmt.Errorf("%w: malformed frame", apperr.ErrInvalidInput)
	}
	if err := validate.Struct(f); err != nil {
		return f, nil, invalid(err)
	}

	var payload any
	switch f.Type {
	case EventAuth:
		payload = &AuthData{}
	case EventJoin, EventLeave, EventTyping, EventStopTyping:
		payload = &RoomData{}
	case EventSend:
		payload = &SendData{}
	case EventMarkRead:
		payload = &ReadData{}
	}

	if len(f.Data) == 0 {
		return f, nil, fmt.Errorf("%w: %s needs data", apperr.ErrInvalidInput, f.Type)
	}
	if err := json.Unmarshal(f.Data, payload); err != nil {
		return f, nil, fmt.Errorf("%w: malformed %s data", apperr.ErrInvalidInput, f.Type)
	}
	if err := validate.Struct(payload); err != nil {
		return f, nil, invalid(err)
	}
	return f, payload, nil
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %s", apperr.ErrInvalidInput, fe.Field(), fe.ActualTag())
	}
	return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
}
