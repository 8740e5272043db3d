// Package models defines the shared value types for tracked items and
// their messages. These are the vocabulary exchanged between the remote
// gateway, the local cache and the sync coordinator.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus is the working state of a tracked item.
type ItemStatus string

const (
	StatusWorking   ItemStatus = "working"
	StatusCompleted ItemStatus = "completed"
	StatusDelayed   ItemStatus = "delayed"
	StatusProblem   ItemStatus = "problem"
)

// ParseItemStatus validates a raw status string.
func ParseItemStatus(s string) (ItemStatus, error) {
	switch st := ItemStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusWorking, StatusCompleted, StatusDelayed, StatusProblem:
		return st, nil
	default:
		return "", fmt.Errorf("unknown item status %q", s)
	}
}

// MessageType categorizes a message. TypeGeneral is free-form chat; the
// four color types double as triggers for an item status transition.
type MessageType string

const (
	TypeGeneral MessageType = "general"
	TypeBlue    MessageType = "blue"
	TypeGreen   MessageType = "green"
	TypeYellow  MessageType = "yellow"
	TypeRed     MessageType = "red"
)

// ParseMessageType validates a raw message type string. An empty string
// defaults to TypeGeneral.
func ParseMessageType(s string) (MessageType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TypeGeneral, nil
	}
	switch mt := MessageType(s); mt {
	case TypeGeneral, TypeBlue, TypeGreen, TypeYellow, TypeRed:
		return mt, nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

// Status returns the item status a message type transitions its parent
// item to. ok is false for TypeGeneral, which carries no transition.
func (t MessageType) Status() (status ItemStatus, ok bool) {
	switch t {
	case TypeBlue:
		return StatusWorking, true
	case TypeGreen:
		return StatusCompleted, true
	case TypeYellow:
		return StatusDelayed, true
	case TypeRed:
		return StatusProblem, true
	default:
		return "", false
	}
}

// MessageState tags a message's position in the optimistic-insert
// protocol. Confirmed messages came back from the gateway; pending ones
// are local placeholders awaiting confirmation. Rolled-back placeholders
// are removed rather than kept in a terminal state.
type MessageState string

const (
	MessagePending   MessageState = "pending"
	MessageConfirmed MessageState = "confirmed"
)

// AnonymousUser is the display name used when a message author is unset.
const AnonymousUser = "anonymous"

// Item is a tracked physical product or unit.
type Item struct {
	// ID is the gateway-assigned document ID, immutable after creation.
	ID string `json:"id"`
	// ItemID is the human-facing identifier (YYYYMMDD-NN). It is the
	// application's addressing key for lookups, QR payloads and message
	// association, even though ID is the storage key.
	ItemID    string     `json:"item_id"`
	Name      string     `json:"name"`
	Location  string     `json:"location,omitempty"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	// Messages is ordered newest-first and loaded separately from the
	// item record itself.
	Messages []Message `json:"messages,omitempty"`
}

// Message is a timestamped note or status-transition record attached to
// an item via its ItemID.
type Message struct {
	ID        string       `json:"id"`
	ItemID    string       `json:"item_id"`
	Body      string       `json:"message"`
	UserName  string       `json:"user_name"`
	Type      MessageType  `json:"msg_type"`
	State     MessageState `json:"state,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// FormatItemID builds the human-facing identifier for the seq'th item
// created on day t (1-based).
func FormatItemID(t time.Time, seq int) string {
	return fmt.Sprintf("%s-%02d", t.Format("20060102"), seq)
}

// DayPrefix returns the itemId date prefix for day t, used to count
// existing same-day items when generating the next identifier.
func DayPrefix(t time.Time) string {
	return t.Format("20060102")
}
