package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

type subscribeCommand struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

// WSFeed streams order books from a venue websocket into the shared order
// book cache. Snapshots replace the book; updates change a single level.
type WSFeed struct {
	venue  domain.VenueID
	wsURL  string
	pairs  []domain.Pair
	books  domain.OrderbookCache
	logger *slog.Logger

	mu      sync.Mutex
	updates int64
}

// NewWSFeed creates a feed for pairs on venue.
func NewWSFeed(venue domain.VenueID, wsURL string, pairs []domain.Pair, books domain.OrderbookCache, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		venue:  venue,
		wsURL:  wsURL,
		pairs:  pairs,
		books:  books,
		logger: logger.With(slog.String("component", "ws_feed"), slog.String("venue", string(venue))),
	}
}

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "book stream disconnected",
			slog.Any("error", err),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Updates returns the number of messages applied so far.
func (f *WSFeed) Updates() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *WSFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	names := make([]string, 0, len(f.pairs))
	for _, p := range f.pairs {
		names = append(names, p.String())
	}
	if err := f.write(conn, websocket.TextMessage, subscribeCommand{Type: "subscribe", Pairs: names}); err != nil {
		return fmt.Errorf("venue/ws: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "book stream connected", slog.Int("pairs", len(names)))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(sessionCtx, conn)
	go func() {
		<-sessionCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venue/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		if err := f.apply(ctx, raw); err != nil {
			f.logger.DebugContext(ctx, "dropping book message", slog.Any("error", err))
		}
	}
}

func (f *WSFeed) apply(ctx context.Context, raw []byte) error {
	var msg BookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	switch msg.Type {
	case "snapshot":
		book, err := msg.ToDomain(f.venue)
		if err != nil {
			return err
		}
		if err := f.books.SetBook(ctx, book); err != nil {
			return err
		}
	case "update":
		pair, err := domain.ParsePair(msg.Pair)
		if err != nil {
			return err
		}
		side := domain.OrderSideBuy
		if msg.Side == "ask" || msg.Side == string(domain.OrderSideSell) {
			side = domain.OrderSideSell
		}
		level := domain.BookLevel{Price: domain.FromFixed(msg.Price), Amount: domain.FromFixed(msg.Amount)}
		if err := f.books.UpdateLevel(ctx, f.venue, pair, side, level); err != nil {
			return err
		}
	default:
		return nil
	}

	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	return nil
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) write(conn *websocket.Conn, mt int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(mt, data)
}
