package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fixedlend/core/events"
)

const streamWriteTimeout = 10 * time.Second

var errBadCursor = errors.New("cursor must be a non-negative integer")

// streamRoutes pushes engine and governance events over a websocket. The
// cursor query resumes after a sequence number; type and market narrow the
// stream.
type streamRoutes struct {
	broker *events.Broker
	logger *slog.Logger
}

type streamFilter struct {
	eventType string
	market    string
}

func (f streamFilter) match(evt events.Sequenced) bool {
	if f.eventType != "" && evt.Type != f.eventType {
		return false
	}
	if f.market != "" && evt.Attributes["market"] != f.market {
		return false
	}
	return true
}

func (sr *streamRoutes) stream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := streamFilter{
		eventType: strings.TrimSpace(query.Get("type")),
		market:    strings.ToUpper(strings.TrimSpace(query.Get("market"))),
	}
	var since uint64
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, errBadCursor)
			return
		}
		since = parsed
	}

	// The server write timeout would otherwise cut the stream.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		sr.logger.Debug("clear stream write deadline", slog.Any("error", err))
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := sr.pump(ctx, conn, since, filter); err != nil && ctx.Err() == nil {
		if status := websocket.CloseStatus(err); status == -1 {
			sr.logger.Warn("event stream failed", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (sr *streamRoutes) pump(ctx context.Context, conn *websocket.Conn, since uint64, filter streamFilter) error {
	updates, cancel, backlog := sr.broker.Subscribe(ctx, since)
	defer cancel()

	for _, evt := range backlog {
		if !filter.match(evt) {
			continue
		}
		if err := writeStreamEvent(ctx, conn, evt); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt events.Sequenced) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
