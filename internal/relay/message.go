// Package relay carries request/response envelopes between the scraper's
// contexts: content, control surface, background, offscreen host and worker.
package relay

import (
	"encoding/json"
	"strings"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// MessageType discriminates envelopes.
type MessageType string

const (
	TypeDetectTables   MessageType = "DETECT_TABLES"
	TypeExtractTable   MessageType = "EXTRACT_TABLE"
	TypeHighlightTable MessageType = "HIGHLIGHT_TABLE"
	TypeRunPython      MessageType = "RUN_PYTHON"

	// Worker protocol.
	TypeInit         MessageType = "INIT"
	TypeInitComplete MessageType = "INIT_COMPLETE"
	TypeRunCode      MessageType = "RUN_CODE"
	TypeRunComplete  MessageType = "RUN_COMPLETE"
	TypeError        MessageType = "ERROR"
	TypeLog          MessageType = "LOG"
)

// TargetOffscreen addresses envelopes to the offscreen host.
const TargetOffscreen = "offscreen"

// Terminal reports whether t ends a worker round trip.
func (t MessageType) Terminal() bool {
	switch t {
	case TypeRunComplete, TypeError, TypeInitComplete:
		return true
	}
	return false
}

// ParseMessageType normalizes a user supplied type name.
func ParseMessageType(s string) MessageType {
	return MessageType(strings.ToUpper(strings.TrimSpace(s)))
}

// Message is a request envelope. Only the fields relevant to Type are set.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	TableID   string          `json:"tableId,omitempty"`
	Code      string          `json:"code,omitempty"`
	Data      []tables.Record `json:"data,omitempty"`
	IndexURL  string          `json:"indexURL,omitempty"`
}

// Envelope wraps a worker payload for the offscreen host.
type Envelope struct {
	Target string  `json:"target"`
	Data   Message `json:"data"`
}

// Reply is the single response envelope. For records which request it
// answers and selects the JSON shape: detection replies carry only
// "tables", extraction replies only "data", highlight replies are empty and
// everything else uses the typed worker shape.
type Reply struct {
	For MessageType

	Type      MessageType
	Tables    []tables.Summary
	Data      []tables.Record
	Result    json.RawMessage
	Stdout    string
	HTML      string
	Plot      string
	CSV       string
	Error     string
	ErrorCode string
	Message   string
}

// ErrorReply builds an ERROR envelope.
func ErrorReply(code, msg string) Reply {
	return Reply{Type: TypeError, ErrorCode: code, Error: msg}
}

// IsError reports whether r is an ERROR envelope.
func (r Reply) IsError() bool { return r.Type == TypeError }

// Console renders stdout followed by the result the way the output pane
// shows it: strings verbatim, anything else as indented JSON.
func (r Reply) Console() string {
	if r.IsError() {
		return r.Error
	}
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stdout != "" {
		b.WriteByte('\n')
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return b.String()
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err == nil {
		b.WriteString(s)
		return b.String()
	}
	var v any
	if err := json.Unmarshal(r.Result, &v); err == nil {
		if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
			b.Write(pretty)
			return b.String()
		}
	}
	b.Write(r.Result)
	return b.String()
}

type replyWire struct {
	Type      MessageType      `json:"type,omitempty"`
	Tables    []tables.Summary `json:"tables,omitempty"`
	Data      []tables.Record  `json:"data,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Stdout    string           `json:"stdout,omitempty"`
	HTML      string           `json:"html,omitempty"`
	Plot      string           `json:"plot,omitempty"`
	CSV       string           `json:"csv,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"errorCode,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Type == "" {
		switch r.For {
		case TypeDetectTables:
			list := r.Tables
			if list == nil {
				list = []tables.Summary{}
			}
			return json.Marshal(struct {
				Tables []tables.Summary `json:"tables"`
			}{list})
		case TypeExtractTable:
			rows := r.Data
			if rows == nil {
				rows = []tables.Record{}
			}
			return json.Marshal(struct {
				Data []tables.Record `json:"data"`
			}{rows})
		case TypeHighlightTable:
			return []byte("{}"), nil
		}
	}
	return json.Marshal(r.wire())
}

func (r Reply) wire() replyWire {
	return replyWire{
		Type:      r.Type,
		Tables:    r.Tables,
		Data:      r.Data,
		Result:    r.Result,
		Stdout:    r.Stdout,
		HTML:      r.HTML,
		Plot:      r.Plot,
		CSV:       r.CSV,
		Error:     r.Error,
		ErrorCode: r.ErrorCode,
		Message:   r.Message,
	}
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var w replyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Reply{
		For:       r.For,
		Type:      w.Type,
		Tables:    w.Tables,
		Data:      w.Data,
		Result:    w.Result,
		Stdout:    w.Stdout,
		HTML:      w.HTML,
		Plot:      w.Plot,
		CSV:       w.CSV,
		Error:     w.Error,
		ErrorCode: w.ErrorCode,
		Message:   w.Message,
	}
	return nil
}
