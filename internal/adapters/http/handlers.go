package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/gin-gonic/gin"
)

const (
	serviceName = "Gyroscope & Screen Capture Relay"
	version     = "2.1.0"
)

type handlers struct {
	orch *orch.Orchestrator
}

type ConnectionCounts struct {
	Active int64  `json:"active"`
	Total  uint64 `json:"total"`
}

type MessageCounts struct {
	Total            uint64 `json:"total"`
	Gyroscope        uint64 `json:"gyroscope"`
	Shake            uint64 `json:"shake"`
	ScreenCapture    uint64 `json:"screenCapture"`
	WebRTCOffers     uint64 `json:"webrtcOffers,omitempty"`
	WebRTCAnswers    uint64 `json:"webrtcAnswers,omitempty"`
	WebRTCCandidates uint64 `json:"webrtcCandidates,omitempty"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Uptime      int64            `json:"uptime"`
	Connections ConnectionCounts `json:"connections"`
	Messages    MessageCounts    `json:"messages"`
	Timestamp   int64            `json:"timestamp"`
}

type MemoryUsage struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
	Sys   uint64 `json:"sys"`
}

type StatusResponse struct {
	Service     string           `json:"service"`
	Version     string           `json:"version"`
	Uptime      int64            `json:"uptime"`
	Connections ConnectionCounts `json:"connections"`
	Messages    MessageCounts    `json:"messages"`
	Rooms       int              `json:"rooms"`
	Memory      MemoryUsage      `json:"memory"`
	Features    map[string]bool  `json:"features"`
	Timestamp   int64            `json:"timestamp"`
}

type PingResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

type RoomsResponse struct {
	Rooms []domain.RoomInfo `json:"rooms"`
}

func connections(s app.StatsSnapshot) ConnectionCounts {
	return ConnectionCounts{Active: s.ActiveConnections, Total: s.TotalConnections}
}

func messages(s app.StatsSnapshot, signaling bool) MessageCounts {
	m := MessageCounts{
		Total:         s.TotalMessages,
		Gyroscope:     s.ByType[protocol.TypeGyroscope],
		Shake:         s.ByType[protocol.TypeShake],
		ScreenCapture: s.ByType[protocol.TypeScreenCapture],
	}
	if signaling {
		m.WebRTCOffers = s.ByType[protocol.TypeOffer]
		m.WebRTCAnswers = s.ByType[protocol.TypeAnswer]
		m.WebRTCCandidates = s.ByType[protocol.TypeCandidate]
	}
	return m
}

func (h *handlers) health(c *gin.Context) {
	s := h.orch.Stats.Snapshot()
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      int64(s.Uptime / time.Second),
		Connections: connections(s),
		Messages:    messages(s, false),
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (h *handlers) status(c *gin.Context) {
	s := h.orch.Stats.Snapshot()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	const mb = 1 << 20
	c.JSON(http.StatusOK, StatusResponse{
		Service:     serviceName,
		Version:     version,
		Uptime:      int64(s.Uptime / time.Second),
		Connections: connections(s),
		Messages:    messages(s, true),
		Rooms:       h.orch.Rooms.Count(),
		Memory: MemoryUsage{
			Used:  mem.HeapAlloc / mb,
			Total: mem.HeapSys / mb,
			Sys:   mem.Sys / mb,
		},
		Features: map[string]bool{
			"gyroscope":       true,
			"shakeDetection":  true,
			"screenCapture":   true,
			"webrtcSignaling": true,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *handlers) ping(c *gin.Context) {
	s := h.orch.Stats.Snapshot()
	c.JSON(http.StatusOK, PingResponse{
		Status:    "pong",
		Timestamp: time.Now().UnixMilli(),
		Uptime:    int64(s.Uptime / time.Second),
	})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, RoomsResponse{Rooms: h.orch.Rooms.List()})
}
