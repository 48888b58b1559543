package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/metrics"
	"treasury-backend/internal/services"
)

// TrackerHandler exposes bridge fill tracking, synchronously over HTTP and
// streaming over a websocket.
type TrackerHandler struct {
	tracker *services.FillTracker
	log     *logrus.Entry

	upgrader websocket.Upgrader
}

func NewTrackerHandler(tracker *services.FillTracker) *TrackerHandler {
	return &TrackerHandler{
		tracker: tracker,
		log:     logrus.WithField("component", "tracker_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type trackRequest struct {
	SourceChainID uint64 `json:"sourceChainId" binding:"required"`
	DepositTxHash string `json:"depositTxHash" binding:"required"`
}

// Track polls until the deposit fills or the polling budget runs out. The
// response is terminal: filled or pending, never an error for a slow fill.
func (h *TrackerHandler) Track(c *gin.Context) {
	if _, ok := workspaceID(c); !ok {
		return
	}
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	start := time.Now()
	result, err := h.tracker.TrackDeposit(c.Request.Context(), req.SourceChainID, req.DepositTxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.FillTrackingDuration.Observe(time.Since(start).Seconds())
	c.JSON(http.StatusOK, result)
}

// Status performs a single status check without polling. Callers that want
// the retry loop use Track instead.
func (h *TrackerHandler) Status(c *gin.Context) {
	if _, ok := workspaceID(c); !ok {
		return
	}
	chainID, err := strconv.ParseUint(c.Query("sourceChainId"), 10, 64)
	if err != nil || chainID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sourceChainId query parameter is required"})
		return
	}
	txHash := c.Query("depositTxHash")
	if txHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "depositTxHash query parameter is required"})
		return
	}

	result, err := h.tracker.CheckDeposit(c.Request.Context(), chainID, txHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type trackerMessage struct {
	Type   string               `json:"type"` // "progress" or "result"
	Result *services.FillResult `json:"result,omitempty"`
}

// TrackWS streams tracking progress over a websocket: periodic progress
// frames while polling, then one result frame and close.
func (h *TrackerHandler) TrackWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req trackRequest
	if err := conn.ReadJSON(&req); err != nil || req.DepositTxHash == "" {
		_ = conn.WriteJSON(gin.H{"error": "expected {sourceChainId, depositTxHash}"})
		return
	}

	done := make(chan struct{})
	var result *services.FillResult
	var trackErr error
	go func() {
		defer close(done)
		result, trackErr = h.tracker.TrackDeposit(c.Request.Context(), req.SourceChainID, req.DepositTxHash)
	}()

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-heartbeat.C:
			if err := conn.WriteJSON(trackerMessage{Type: "progress"}); err != nil {
				return
			}
		case <-done:
			if trackErr != nil {
				_ = conn.WriteJSON(gin.H{"error": trackErr.Error()})
				return
			}
			_ = conn.WriteJSON(trackerMessage{Type: "result", Result: result})
			return
		}
	}
}
