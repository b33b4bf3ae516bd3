package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"energy_prices/internal/model"
	"energy_prices/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Reporter builds price reports.
type Reporter interface {
	Build(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// CacheService is the part of the year cache clients may drive.
type CacheService interface {
	Refresh(ctx context.Context, kind model.Kind, year int) (model.PriceSeries, error)
	Entries(ctx context.Context) ([]model.CacheEntry, error)
}

// Handler manages WebSocket connections and routes requests to the report
// builder and the cache.
type Handler struct {
	hub      *Hub
	bridge   *Bridge
	reporter Reporter
	cache    CacheService
	info     DataLoadedPayload
}

func NewHandler(hub *Hub, reporter Reporter, cache CacheService, info DataLoadedPayload) *Handler {
	return &Handler{hub: hub, bridge: NewBridge(hub), reporter: reporter, cache: cache, info: info}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	h.reply(client, TypeDataLoaded, h.info)
	h.sendCacheStatus(r.Context(), client)

	h.readPump(r.Context(), client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("Invalid message: %v", err)
		h.replyError(c, "", "invalid message: "+err.Error())
		return
	}

	switch env.Type {
	case TypeReportRequest:
		var p ReportRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.replyError(c, env.Type, "invalid payload: "+err.Error())
			return
		}
		req, err := reportRequest(p)
		if err != nil {
			h.replyError(c, env.Type, err.Error())
			return
		}
		report, err := h.reporter.Build(ctx, req)
		if err != nil {
			log.Printf("Report %s %v failed: %v", req.Kind, req.Years, err)
			h.replyError(c, env.Type, err.Error())
			return
		}
		h.reply(c, TypeReportData, report)

	case TypeCacheRefresh:
		var p CacheRefreshPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.replyError(c, env.Type, "invalid payload: "+err.Error())
			return
		}
		kind, err := model.ParseKind(p.Kind)
		if err != nil {
			h.replyError(c, env.Type, err.Error())
			return
		}
		series, err := h.cache.Refresh(ctx, kind, p.Year)
		if err != nil {
			log.Printf("Refresh %s %d failed: %v", kind, p.Year, err)
		}
		h.bridge.OnRefresh(kind, p.Year, series, err)
		h.broadcastCacheStatus(ctx)

	case TypeCacheQuery:
		h.sendCacheStatus(ctx, c)

	default:
		log.Printf("Unknown message type: %s", env.Type)
		h.replyError(c, env.Type, "unknown message type")
	}
}

func reportRequest(p ReportRequestPayload) (pipeline.Request, error) {
	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		return pipeline.Request{}, err
	}
	days, err := pipeline.ParseDayFilter(p.Days)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Kind: kind, Years: p.Years, MonthYear: p.MonthYear, Days: days}, nil
}

func (h *Handler) cacheStatusMessage(ctx context.Context) ([]byte, error) {
	entries, err := h.cache.Entries(ctx)
	if err != nil {
		return nil, err
	}
	p := CacheStatusPayload{Entries: make([]CacheEntryInfo, 0, len(entries))}
	for _, e := range entries {
		p.Entries = append(p.Entries, CacheEntryFromModel(e))
	}
	return NewEnvelope(TypeCacheStatus, p)
}

func (h *Handler) sendCacheStatus(ctx context.Context, c *Client) {
	msg, err := h.cacheStatusMessage(ctx)
	if err != nil {
		log.Printf("Error creating cache:status message: %v", err)
		return
	}
	h.hub.Send(c, msg)
}

func (h *Handler) broadcastCacheStatus(ctx context.Context) {
	msg, err := h.cacheStatusMessage(ctx)
	if err != nil {
		log.Printf("Error creating cache:status message: %v", err)
		return
	}
	h.hub.Broadcast(msg)
}

func (h *Handler) reply(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("Error marshaling %s: %v", msgType, err)
		return
	}
	h.hub.Send(c, msg)
}

func (h *Handler) replyError(c *Client, request, message string) {
	h.reply(c, TypeError, ErrorPayload{Request: request, Message: message})
}
