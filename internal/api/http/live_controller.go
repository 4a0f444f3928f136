package http

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// LiveController streams attendance events to dashboards over websocket.
type LiveController struct {
	feed      service.LiveFeed
	reports   service.ReportInteractor
	presenter converter.Presenter
	upgrader  websocket.Upgrader
	log       *slog.Logger
}

func NewLiveController(
	feed service.LiveFeed,
	reports service.ReportInteractor,
	presenter converter.Presenter,
	allowedOrigins []string,
	log *slog.Logger,
) *LiveController {
	return &LiveController{
		feed:      feed,
		reports:   reports,
		presenter: presenter,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (c *LiveController) Watch(ctx *gin.Context) {
	operatorID := uuid.Nil
	if op := operatorFrom(ctx); op != nil {
		operatorID = op.ID
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Info("websocket upgrade failed", sl.Err(err))
		return
	}

	watcher := c.feed.Subscribe(operatorID)
	watcher.Socket = conn
	defer func() {
		c.feed.Unsubscribe(watcher)
		conn.Close()
	}()

	if stats, err := c.reports.Stats(ctx.Request.Context(), service.DefaultRecentArrivals); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := conn.WriteJSON(gin.H{"type": "snapshot", "stats": c.presenter.StatsToApi(stats)}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go c.forwardEvents(watcher, done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(done)
			return
		}
	}
}

// forwardEvents is the only writer on the socket once the snapshot is sent.
func (c *LiveController) forwardEvents(w *domain.Watcher, done <-chan struct{}) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			_ = w.Socket.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := w.Socket.WriteJSON(c.presenter.FeedEventToApi(event)); err != nil {
				c.log.Debug("live write failed", "watcher_id", w.ID, sl.Err(err))
				w.Socket.Close()
				return
			}
		case <-ticker.C:
			_ = w.Socket.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := w.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.Socket.Close()
				return
			}
		}
	}
}
