// Package wire defines the realtime event envelope and payloads exchanged over the
// websocket channel. Every frame is {"event": name, "data": payload}.
package wire

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

// Client -> server events
const (
	EventAuthenticate      = "authenticate"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
)

// Server -> client events
const (
	EventAuthenticated       = "authenticated"
	EventUserTyping          = "user_typing"
	EventNewMessage          = "new_message"
	EventMessageRead         = "message_read"
	EventMessageNotification = "message_notification"
)

// Envelope is one websocket frame
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Authenticate binds a user to the connection. Token is the same session token the
// REST API accepts.
type Authenticate struct {
	UserID string `json:"userId" validate:"required,max=64,excludes=:"`
	Token  string `json:"token" validate:"required"`
}

// Authenticated acknowledges an Authenticate
type Authenticated struct {
	UserID  string `json:"userId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Conversation is the join/leave payload
type Conversation struct {
	ListingID   string `json:"listingId" validate:"required,max=64,excludes=:"`
	OtherUserID string `json:"otherUserId" validate:"required,max=64,excludes=:"`
}

// Typing is sent by the typist
type Typing struct {
	ListingID  string `json:"listingId" validate:"required,max=64,excludes=:"`
	ReceiverID string `json:"receiverId" validate:"required,max=64,excludes=:"`
	IsTyping   bool   `json:"isTyping"`
}

// UserTyping is delivered to the receiver
type UserTyping struct {
	ListingID string `json:"listingId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
}

// MessageRead tells the sender their message was seen
type MessageRead struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

// MessageNotification is the auxiliary per-recipient alert for a new message
type MessageNotification struct {
	Message      *domain.Message `json:"message"`
	SenderName   string          `json:"senderName"`
	ListingTitle string          `json:"listingTitle"`
	Preview      string          `json:"preview"`
}

var validate = validator.New()

// Encode builds a frame
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a frame header; the payload stays raw
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("decode frame: missing event")
	}
	return env, nil
}

// Bind unmarshals the payload into dst and validates its struct tags
func Bind(env Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}

// Room names a group of sessions that receive the same events
type Room string

// ConversationRoom is shared by both participants of a listing conversation. The pair is
// sorted so either side derives the same name. Bind rejects ids containing ":".
func ConversationRoom(listingID, userA, userB string) Room {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return Room("conversation:" + listingID + ":" + strings.Join(pair, ":"))
}

// UserRoom holds every authenticated session of one user
func UserRoom(userID string) Room {
	return Room("user:" + userID)
}
