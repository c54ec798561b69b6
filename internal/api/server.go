// Package api exposes the runtime's control surface: kill-switch control,
// agent lifecycle, read-only market/decision introspection, and a WebSocket
// broadcast of cycle events. Server/Client/Message shape follows the usual
// gorilla/mux router, rs/cors wrapping, gorilla/websocket upgrade with
// ping/pong read/write pumps.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/internal/journal"
	"github.com/onlytrade/agent-runtime/internal/killswitch"
	"github.com/onlytrade/agent-runtime/internal/marketdata"
	"github.com/onlytrade/agent-runtime/internal/registry"
	"github.com/onlytrade/agent-runtime/internal/scheduler"
	"github.com/onlytrade/agent-runtime/pkg/types"
	"github.com/onlytrade/agent-runtime/pkg/utils"
	"github.com/shopspring/decimal"
)

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Server is the control API + WebSocket broadcast hub.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	marketSvc *marketdata.Service
	regStore  *registry.Store
	killSw    *killswitch.Switch
	journalSt *journal.Store
	sched     *scheduler.Scheduler
	clock     types.Clock
}

// NewServer constructs the control API server and wires its routes.
func NewServer(logger *zap.Logger, cfg types.ServerConfig, marketSvc *marketdata.Service, regStore *registry.Store, killSw *killswitch.Switch, journalSt *journal.Store, sched *scheduler.Scheduler, clock types.Clock) *Server {
	if clock == nil {
		clock = types.SystemClock
	}
	s := &Server{
		logger:    logger.Named("api"),
		cfg:       cfg,
		router:    mux.NewRouter(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
		clients:   make(map[string]*Client),
		marketSvc: marketSvc,
		regStore:  regStore,
		killSw:    killSw,
		journalSt: journalSt,
		sched:     sched,
		clock:     clock,
	}
	s.setupRoutes()
	go s.broadcastLoop()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/market/symbols", s.handleSymbols).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/agents", s.handleAgents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/lobby", s.handleLobby).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/decisions/{trader_id}/latest", s.handleLatestDecisions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/agents/{trader_id}/performance", s.handlePerformance).Methods(http.MethodGet)
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)

	control := s.router.PathPrefix("/api/v1/control").Subrouter()
	control.Use(s.authMiddleware)
	control.HandleFunc("/kill-switch", s.handleKillSwitchStatus).Methods(http.MethodGet)
	control.HandleFunc("/kill-switch/activate", s.handleKillSwitchActivate).Methods(http.MethodPost)
	control.HandleFunc("/kill-switch/deactivate", s.handleKillSwitchDeactivate).Methods(http.MethodPost)
	control.HandleFunc("/agents/{agent_id}/register", s.handleAgentRegister).Methods(http.MethodPost)
	control.HandleFunc("/agents/{agent_id}/unregister", s.handleAgentUnregister).Methods(http.MethodPost)
	control.HandleFunc("/agents/{agent_id}/start", s.handleAgentStart).Methods(http.MethodPost)
	control.HandleFunc("/agents/{agent_id}/stop", s.handleAgentStop).Methods(http.MethodPost)
}

// authMiddleware enforces the bearer control token using a constant-time
// comparison, since a naive == would leak timing information about how much
// of the token matched.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ControlToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ControlToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP, wrapped with permissive rs/cors middleware.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Host + ":" + itoa(s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("control api listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": s.marketSvc.GetSymbols()})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.regStore.Available()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": manifests})
}

// handleLobby returns the agent_ids visible on the public lobby: registered
// agents with show_in_lobby set.
func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	lobby, err := s.regStore.Lobby()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lobby": lobby})
}

func (s *Server) handleLatestDecisions(w http.ResponseWriter, r *http.Request) {
	traderID := mux.Vars(r)["trader_id"]
	recs, err := s.journalSt.TailDecisions(traderID, s.clock.NowMs(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": recs})
}

// handlePerformance summarizes a trader's recent equity curve (cash_after
// across its last logged decisions) into max drawdown, win rate, profit
// factor and Sharpe ratio figures, plus the sample count, using pkg/utils'
// statistics helpers.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	traderID := mux.Vars(r)["trader_id"]
	recs, err := s.journalSt.TailDecisions(traderID, s.clock.NowMs(), 200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"max_drawdown": "0", "win_rate": "0"})
		return
	}

	equity := make([]decimal.Decimal, 0, len(recs))
	pnls := make([]decimal.Decimal, 0, len(recs))
	for i, rec := range recs {
		equity = append(equity, rec.CashAfter)
		if i > 0 {
			pnls = append(pnls, rec.CashAfter.Sub(recs[i-1].CashAfter))
		}
	}

	returns := utils.CalculateReturns(equity)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_drawdown":  utils.CalculateMaxDrawdown(equity).StringFixed(4),
		"win_rate":      utils.CalculateWinRate(pnls).StringFixed(4),
		"profit_factor": utils.CalculateProfitFactor(pnls).StringFixed(4),
		"sharpe_ratio":  utils.CalculateSharpeRatio(returns, decimal.Zero, 252).StringFixed(4),
		"samples":       len(recs),
	})
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.killSw.State())
}

func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
		By     string `json:"by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.killSw.Activate(body.Reason, body.By, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.killSw.State())
}

func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By string `json:"by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.killSw.Deactivate(body.By, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, s.killSw.State())
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if err := s.regStore.Register(agentID, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleAgentUnregister(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if err := s.regStore.Unregister(agentID, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if err := s.regStore.Start(agentID, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if err := s.regStore.Stop(agentID, s.clock.NowMs()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{ID: conn.RemoteAddr().String(), Conn: conn, Send: make(chan []byte, 32)}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(c *Client) {
	defer s.removeClient(c)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Conn.Close()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	close(c.Send)
}

// broadcastLoop forwards scheduler cycle events to every connected client.
func (s *Server) broadcastLoop() {
	if s.sched == nil {
		return
	}
	for ev := range s.sched.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		s.mu.RLock()
		for _, c := range s.clients {
			select {
			case c.Send <- payload:
			default:
			}
		}
		s.mu.RUnlock()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
