package content

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
)

// DefaultHighlightDuration is how long a highlighted table stays outlined.
const DefaultHighlightDuration = 2 * time.Second

// Handler is the content context. It answers DETECT_TABLES, EXTRACT_TABLE
// and HIGHLIGHT_TABLE for the tab named in each message.
type Handler struct {
	backend           Backend
	HighlightDuration time.Duration
}

func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend, HighlightDuration: DefaultHighlightDuration}
}

// Handle always returns a reply; backend failures become ERROR replies.
func (h *Handler) Handle(ctx context.Context, msg relay.Message) relay.Reply {
	reply := relay.Reply{For: msg.Type}
	switch msg.Type {
	case relay.TypeDetectTables:
		found, err := h.backend.DetectTables(ctx, msg.TabID)
		if err != nil {
			return failure(msg, err)
		}
		reply.Tables = found
		slog.Debug("content detect", "tab_id", msg.TabID, "tables", len(found))
	case relay.TypeExtractTable:
		rows, err := h.backend.ExtractTable(ctx, msg.TabID, msg.TableID)
		if err != nil {
			return failure(msg, err)
		}
		reply.Data = rows
		slog.Debug("content extract", "tab_id", msg.TabID, "table_id", msg.TableID, "rows", len(rows))
	case relay.TypeHighlightTable:
		d := h.HighlightDuration
		if d <= 0 {
			d = DefaultHighlightDuration
		}
		if err := h.backend.HighlightTable(ctx, msg.TabID, msg.TableID, d); err != nil {
			return failure(msg, err)
		}
	default:
		return relay.ErrorReply(cdpcontrol.CodeValidation, "content does not handle "+string(msg.Type))
	}
	return reply
}

func failure(msg relay.Message, err error) relay.Reply {
	code := cdpcontrol.CodeEvalFailure
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		code = coded.Code
	}
	slog.Warn("content request failed", "type", msg.Type, "tab_id", msg.TabID, "error", err)
	reply := relay.ErrorReply(code, err.Error())
	reply.For = msg.Type
	if coded != nil {
		reply.Message = coded.Message
	}
	return reply
}
