package hub

import (
	"encoding/json"
	"time"

	"github.com/abdelmounim-dev/scanhub/domain"
)

// Message types on the wire.
const (
	TypeWelcome              = "welcome"
	TypeRegister             = "register"
	TypeCache                = "cache"
	TypeCacheRequest         = "cache_request"
	TypeStudentRecord        = "student_record"
	TypeForwardStudentRecord = "forward_student_record"
	TypeCacheUpdate          = "cache_update"
	TypeSystemReset          = "system_reset"
	TypeLog                  = "log"
	TypeHeartbeat            = "heartbeat"
)

// Log levels carried by log messages.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// envelope is decoded first; the rest of a frame is decoded per type so a
// mistyped field one handler ignores cannot drop the message for another.
type envelope struct {
	Type string `json:"type"`
}

type registerFrame struct {
	Token json.RawMessage `json:"token"`
	Node  json.RawMessage `json:"node"`
}

// descriptor returns the requested name and role. A node that is not an
// object reads as absent. Non-string values come back as their JSON text,
// which never parses as a role.
func (f registerFrame) descriptor() (name, role string) {
	var d struct {
		Name json.RawMessage `json:"name"`
		Role json.RawMessage `json:"role"`
	}
	if err := json.Unmarshal(f.Node, &d); err != nil {
		return "", ""
	}
	name, _ = textField(d.Name)
	role, _ = textField(d.Role)
	return name, role
}

type recordFrame struct {
	Payload json.RawMessage `json:"payload"`
}

// textField decodes a JSON string. Absent and null read as "". Any other
// JSON value is returned as its raw text with ok false.
func textField(raw json.RawMessage) (s string, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), false
	}
	return s, true
}

type WelcomeMessage struct {
	Type   string `json:"type"`
	NodeID string `json:"nodeId"`
}

// CacheMessage is used for both cache (reply) and cache_update (broadcast).
type CacheMessage struct {
	Type     string             `json:"type"`
	Version  int64              `json:"version"`
	Students []domain.RosterRow `json:"students"`
}

type ForwardMessage struct {
	Type    string               `json:"type"`
	Payload domain.StudentRecord `json:"payload"`
	TS      time.Time            `json:"ts"`
}

type SystemResetMessage struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

type LogMessage struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Level   string    `json:"level,omitempty"`
	TS      time.Time `json:"ts"`
}

func welcomeMessage(nodeID string) WelcomeMessage {
	return WelcomeMessage{Type: TypeWelcome, NodeID: nodeID}
}

func cacheMessage(typ string, snap domain.Snapshot) CacheMessage {
	students := snap.Students
	if students == nil {
		students = []domain.RosterRow{}
	}
	return CacheMessage{Type: typ, Version: snap.Version, Students: students}
}

func logMessage(level, message string, ts time.Time) LogMessage {
	return LogMessage{Type: TypeLog, Message: message, Level: level, TS: ts}
}
