package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"nt-bridge/internal/dispatch"
	"nt-bridge/internal/events"
	"nt-bridge/internal/monitor"
	"nt-bridge/internal/protection"
	"nt-bridge/internal/registry"
	"nt-bridge/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the dispatcher and the event bus.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Protection *protection.Manager
	Monitor    *monitor.Loop
	DB         *db.Database
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	DryRun  bool
	Account string
	Version string
}

func NewServer(bus *events.Bus, disp *dispatch.Dispatcher, reg *registry.Registry, prot *protection.Manager, mon *monitor.Loop, database *db.Database, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		Dispatcher: disp,
		Registry:   reg,
		Protection: prot,
		Monitor:    mon,
		DB:         database,
		JWTSecret:  jwtSecret,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)

		// Protected API. Auth is only enforced when a secret is configured;
		// the bridge usually runs on localhost next to the trading platform.
		protected := api.Group("")
		if s.JWTSecret != "" {
			protected.Use(AuthMiddleware(s.JWTSecret))
		}
		{
			protected.POST("/command", s.postCommand)
			protected.GET("/orders", s.getOrders)
			protected.GET("/protection", s.getProtection)
			protected.GET("/journal", s.getJournal)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"dry_run":   s.Meta.DryRun,
		"account":   s.Meta.Account,
		"version":   s.Meta.Version,
		"uptime":    s.Dispatcher.Uptime().String(),
		"processed": s.Dispatcher.Processed(),
	}
	if s.Monitor != nil {
		status["monitor_ticks"] = s.Monitor.Ticks()
	}
	c.JSON(http.StatusOK, status)
}

// postCommand accepts one raw command line and returns the raw reply. The
// body is the same semicolon-delimited text the file and TCP transports carry.
func (s *Server) postCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	reply := s.Dispatcher.Dispatch(c.Request.Context(), req.Command)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) getOrders(c *gin.Context) {
	records := s.Registry.Records()
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"client_id":   rec.ClientID,
			"native_id":   rec.NativeID,
			"instrument":  rec.Instrument,
			"side":        rec.Side,
			"type":        rec.Type,
			"qty":         rec.Qty,
			"limit_price": rec.LimitPrice,
			"stop_price":  rec.StopPrice,
			"state":       rec.State,
			"filled":      rec.Filled,
			"remaining":   rec.Remaining,
			"avg_price":   rec.AvgPrice,
			"tag":         rec.Tag,
			"last_update": rec.LastUpdate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getProtection(c *gin.Context) {
	configs := s.Protection.Active()
	out := make([]gin.H, 0, len(configs))
	for _, cfg := range configs {
		st := cfg.Snapshot()
		out = append(out, gin.H{
			"instrument":    st.Instrument,
			"side":          st.Side,
			"entry_price":   st.EntryPrice,
			"level":         st.Level,
			"max_level":     st.MaxLevel,
			"trailing":      st.Trailing,
			"extreme":       st.Extreme,
			"stop_order_id": st.StopOrderID,
			"stop_price":    st.StopPrice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"protection": out})
}

func (s *Server) getJournal(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	orders, err := s.DB.ListOrders(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
