package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"propertyescrow/pkg/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type Handler struct {
	hub      *Hub
	journal  Journal
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetJournal enables the /events history endpoint.
func (h *Handler) SetJournal(j Journal) {
	h.journal = j
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/events", h.stream)
	router.GET("/events/status", h.status)
	router.GET("/events", h.history)
}

// @Summary      Stream escrow events
// @Description  Upgrades to a websocket that receives committed escrow events as JSON. Filter with asset_id.
// @Tags         events
// @Param        asset_id  query  int  false  "Only events for this asset"
// @Router       /ws/events [get]
func (h *Handler) stream(c *gin.Context) {
	var assetID uint64
	if raw := c.Query("asset_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset_id", nil)
			return
		}
		assetID = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.hub.Subscribe(assetID)
	h.logger.Info("event subscriber connected",
		zap.String("subscriber", sub.ID),
		zap.Uint64("asset_id", assetID))

	go h.writeLoop(conn, sub)
	go h.readLoop(conn, sub)
}

// @Summary      Event stream status
// @Description  Number of connected event subscribers
// @Tags         events
// @Produce      json
// @Success      200  {object}  response.APIResponse
// @Router       /events/status [get]
func (h *Handler) status(c *gin.Context) {
	response.SendAPIResponse(c, http.StatusOK, true, "event stream status", gin.H{"subscribers": h.hub.Count()})
}

// @Summary      Event history
// @Description  Committed escrow events, oldest first. Page backwards with before (unix seconds).
// @Tags         events
// @Produce      json
// @Param        asset_id  query     int  false  "Only events for this asset"
// @Param        limit     query     int  false  "Maximum events" default(50)
// @Param        before    query     int  false  "Only events before this unix time"
// @Success      200       {object}  response.APIResponse{data=[]escrow.Event}
// @Failure      400       {object}  response.APIResponse "Invalid query"
// @Failure      503       {object}  response.APIResponse "History not enabled"
// @Router       /events [get]
func (h *Handler) history(c *gin.Context) {
	if h.journal == nil {
		response.SendAPIResponse(c, http.StatusServiceUnavailable, false, "event history not enabled", nil)
		return
	}

	var assetID uint64
	if raw := c.Query("asset_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset_id", nil)
			return
		}
		assetID = id
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid limit", nil)
		return
	}
	before := time.Now().Add(time.Second)
	if raw := c.Query("before"); raw != "" {
		epoch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid before", nil)
			return
		}
		before = time.Unix(epoch, 0)
	}

	events, err := h.journal.History(c.Request.Context(), assetID, limit, before)
	if err != nil {
		h.logger.Error("load event history", zap.Error(err))
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to load event history", nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "event history", events)
}

// readLoop discards client frames and unsubscribes when the peer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub.ID)
		conn.Close()
		h.logger.Info("event subscriber disconnected", zap.String("subscriber", sub.ID))
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("event stream read error", zap.String("subscriber", sub.ID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case evt := <-sub.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Warn("event stream write error", zap.String("subscriber", sub.ID), zap.Error(err))
				h.hub.Unsubscribe(sub.ID)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unsubscribe(sub.ID)
				return
			}
		}
	}
}
