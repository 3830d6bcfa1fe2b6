package ws

import (
	"encoding/json"

	"github.com/tatianab/trainer-tales/internal/models"
)

// Message types.
const (
	TypeTurn   = "TURN"
	TypeResult = "RESULT"
	TypeError  = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// TurnMsg asks for one turn. An empty session id starts a new session.
type TurnMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// ResultMsg is the reply to a successful turn.
type ResultMsg struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"request_id,omitempty"`
	SessionID   string          `json:"session_id"`
	Narration   string          `json:"narration"`
	Choices     []models.Choice `json:"choices"`
	SafeDefault string          `json:"safe_default,omitempty"`
	Intent      string          `json:"intent,omitempty"`
	QuickAction string          `json:"quick_action,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// ErrorMsg reports a failed turn.
type ErrorMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
