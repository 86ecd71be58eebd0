package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"liahona/internal/realtime"
)

const defaultStreamWriteTimeout = 10 * time.Second

// streamHandler upgrades to a websocket and forwards one bus topic to it.
type streamHandler struct {
	bus          *realtime.Bus
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

func newStreamHandler(bus *realtime.Bus, writeTimeout time.Duration, logger *slog.Logger) *streamHandler {
	if writeTimeout <= 0 {
		writeTimeout = defaultStreamWriteTimeout
	}
	return &streamHandler{
		bus:          bus,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients usually omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func registerStream(r chi.Router, basePath string, h *streamHandler) {
	r.Get(path.Join(basePath, "projects", "{project_id}", "stream"), h.ServeHTTP)
	r.Get(path.Join(basePath, "stream"), h.ServeHTTP)
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "project_id")
	if topic == "" {
		topic = realtime.Wildcard
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(topic)
	defer sub.Close()
	h.logger.Debug("stream subscribed", "topic", sub.Topic())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C:
				if !ok {
					cancel()
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				if err := conn.WriteJSON(evt); err != nil {
					h.logger.Debug("stream write failed", "topic", sub.Topic(), "err", err)
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(4 << 10)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			// Clients do not send anything meaningful; reads only detect close.
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	<-ctx.Done()
	<-writerDone
	// Closing the connection unblocks the reader.
	conn.Close()
	<-readDone
	h.logger.Debug("stream closed", "topic", sub.Topic())
}
