// Package models defines the core data types shared across Converge.
package models

import (
	"strings"
	"time"
)

// Role indicates the author of a dialogue line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// SessionKey identifies one conversation: a platform conversation id plus an
// optional thread id.
type SessionKey struct {
	ConversationID string `json:"conversation_id"`
	ThreadID       string `json:"thread_id,omitempty"`
}

// String renders the key as "conversation" or "conversation:thread".
func (k SessionKey) String() string {
	if k.ThreadID == "" {
		return k.ConversationID
	}
	return k.ConversationID + ":" + k.ThreadID
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(s string) SessionKey {
	conv, thread, _ := strings.Cut(s, ":")
	return SessionKey{ConversationID: conv, ThreadID: thread}
}

// InboundMessage is a user message delivered by the messaging platform.
type InboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	ThreadID       string    `json:"thread_id,omitempty"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`

	// MessageTS is the platform timestamp of the message itself, used for
	// reactions.
	MessageTS string `json:"message_ts,omitempty"`
	IsDM      bool   `json:"is_dm,omitempty"`
}

// Key returns the session key the message routes to.
func (m *InboundMessage) Key() SessionKey {
	return SessionKey{ConversationID: m.ConversationID, ThreadID: m.ThreadID}
}

// ReplyAttachment is an optional structured block attached to a reply.
type ReplyAttachment struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
}

// OutboundReply is a message sent back through the messaging platform.
type OutboundReply struct {
	ConversationID string            `json:"conversation_id"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Text           string            `json:"text"`
	Attachments    []ReplyAttachment `json:"attachments,omitempty"`
}

// ReplyTo builds a reply addressed to the conversation and thread of msg.
func ReplyTo(msg *InboundMessage, text string) *OutboundReply {
	return &OutboundReply{
		ConversationID: msg.ConversationID,
		ThreadID:       msg.ThreadID,
		Text:           text,
	}
}
