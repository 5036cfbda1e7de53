package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/possync/internal/models"
)

// Producers on the notification channel emit several payload shapes. All of
// them are decoded here into the one normalized ChangeEvent before any
// consumer sees them:
//
//	canonical: {"type":"UPDATED","table":"orders","recordId":"o1","row":{...}}
//	action:    {"action":"update","collection":"orders","record":{...}}
//	wrapped:   {"event":"record.updated","data":{"table":"orders","row":{...}}}
//
// Heartbeat and comment frames are recognized and reported as no events.

type rawFrame struct {
	// canonical shape
	Type     string     `json:"type"`
	Table    string     `json:"table"`
	RecordID string     `json:"recordId"`
	Row      models.Row `json:"row"`

	// action shape
	Action     string     `json:"action"`
	Collection string     `json:"collection"`
	Record     models.Row `json:"record"`

	// wrapped shape
	Event string `json:"event"`
	Data  *struct {
		Table string     `json:"table"`
		Row   models.Row `json:"row"`
	} `json:"data"`
}

// Normalize decodes one transport frame. It returns (nil, nil) for
// heartbeat and comment frames, which carry no event.
func Normalize(frame []byte) (*models.ChangeEvent, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil, nil // comment / keepalive line
	}
	if s := string(trimmed); s == "ping" || s == "pong" {
		return nil, nil
	}

	var raw rawFrame
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}

	switch strings.ToLower(raw.Type) {
	case "ping", "pong", "heartbeat", "keepalive":
		return nil, nil
	}

	if ev, ok := fromCanonical(raw); ok {
		return ev, nil
	}
	if ev, ok := fromAction(raw); ok {
		return ev, nil
	}
	if ev, ok := fromWrapped(raw); ok {
		return ev, nil
	}
	return nil, fmt.Errorf("unrecognized frame shape: %s", compact(trimmed))
}

func fromCanonical(raw rawFrame) (*models.ChangeEvent, bool) {
	typ := models.EventType(strings.ToUpper(raw.Type))
	switch typ {
	case models.EventCreated, models.EventUpdated, models.EventDeleted:
	default:
		return nil, false
	}
	if raw.Table == "" {
		return nil, false
	}
	recordID := raw.RecordID
	if recordID == "" && raw.Row != nil {
		recordID = raw.Row.ID()
	}
	if recordID == "" {
		return nil, false
	}
	return &models.ChangeEvent{Type: typ, Table: raw.Table, RecordID: recordID, Row: raw.Row}, true
}

func fromAction(raw rawFrame) (*models.ChangeEvent, bool) {
	var typ models.EventType
	switch strings.ToLower(raw.Action) {
	case "insert", "create":
		typ = models.EventCreated
	case "update":
		typ = models.EventUpdated
	case "delete":
		typ = models.EventDeleted
	default:
		return nil, false
	}
	if raw.Collection == "" || raw.Record == nil || raw.Record.ID() == "" {
		return nil, false
	}
	return &models.ChangeEvent{Type: typ, Table: raw.Collection, RecordID: raw.Record.ID(), Row: raw.Record}, true
}

func fromWrapped(raw rawFrame) (*models.ChangeEvent, bool) {
	var typ models.EventType
	switch strings.ToLower(raw.Event) {
	case "record.created":
		typ = models.EventCreated
	case "record.updated":
		typ = models.EventUpdated
	case "record.deleted":
		typ = models.EventDeleted
	default:
		return nil, false
	}
	if raw.Data == nil || raw.Data.Table == "" || raw.Data.Row == nil || raw.Data.Row.ID() == "" {
		return nil, false
	}
	return &models.ChangeEvent{Type: typ, Table: raw.Data.Table, RecordID: raw.Data.Row.ID(), Row: raw.Data.Row}, true
}

func compact(b []byte) string {
	const max = 120
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
