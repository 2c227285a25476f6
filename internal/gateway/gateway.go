package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/vaultengine/internal/archive"
	"github.com/terminal-bench/vaultengine/internal/claim"
	"github.com/terminal-bench/vaultengine/internal/oracle"
	"github.com/terminal-bench/vaultengine/internal/token"
	"github.com/terminal-bench/vaultengine/internal/vault"
	"github.com/terminal-bench/vaultengine/pkg/guard"
	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

// Config holds gateway configuration.
type Config struct {
	Port         string
	JWTSecret    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Gateway is the HTTP surface over the vault engine. Vault entry points are
// permissionless, mirroring the on-ledger semantics; only operator routes
// (event history) sit behind JWT.
type Gateway struct {
	router    *gin.Engine
	cfg       Config
	vaults    map[string]*vault.ReserveVault
	claims    *claim.Vault
	events    *archive.Store
	msgClient *messaging.Client

	wsClients map[uuid.UUID]*WSClient
	wsMu      sync.RWMutex
}

// WSClient is one connected event-stream observer.
type WSClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan []byte
	Done chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewGateway wires the HTTP surface. events and msgClient may be nil when
// running without Postgres or NATS.
func NewGateway(cfg Config, vaults []*vault.ReserveVault, claims *claim.Vault, events *archive.Store, msgClient *messaging.Client) *Gateway {
	byName := make(map[string]*vault.ReserveVault, len(vaults))
	for _, v := range vaults {
		byName[v.Name()] = v
	}

	g := &Gateway{
		router:    gin.Default(),
		cfg:       cfg,
		vaults:    byName,
		claims:    claims,
		events:    events,
		msgClient: msgClient,
		wsClients: make(map[uuid.UUID]*WSClient),
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		// Reserve vaults
		v1.POST("/vaults/:name/issue", g.issueShares)
		v1.POST("/vaults/:name/redeem", g.redeemShares)
		v1.POST("/vaults/:name/transfer", g.transferShares)
		v1.POST("/vaults/:name/approve", g.approveShares)
		v1.GET("/vaults/:name/metrics", g.vaultMetrics)
		v1.GET("/vaults/:name/issuance", g.issuanceStatus)
		v1.GET("/vaults/:name/balance/:account", g.vaultBalance)

		// Claim vault
		v1.POST("/claims/deposit", g.depositTokens)
		v1.POST("/claims/claim", g.claimShares)
		v1.POST("/claims/redeem", g.redeemClaims)
		v1.POST("/claims/transfer", g.transferClaims)
		v1.GET("/claims/metrics", g.claimMetrics)
		v1.GET("/claims/eligibility/:account", g.claimEligibility)
		v1.GET("/claims/balance/:account", g.claimBalance)

		// Weight oracle; updates are intentionally permissionless
		v1.POST("/oracle/update", g.updateWeight)
		v1.GET("/oracle/weight", g.currentWeight)

		// Operator routes
		v1.GET("/events/recent", g.authMiddleware(), g.recentEvents)

		// Event stream
		v1.GET("/ws", g.handleWebSocket)
	}
}

// Router exposes the gin engine, used by tests and the server wrapper.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Start runs the gateway and, when NATS is configured, begins relaying
// events to websocket observers.
func (g *Gateway) Start(addr string) error {
	if g.msgClient != nil {
		if err := g.subscribeEvents(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      g.router,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if len(raw) < 8 || raw[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		tok, err := jwt.Parse(raw[7:], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(g.cfg.JWTSecret), nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

// Requests

type transferRequest struct {
	From    uuid.UUID `json:"from" binding:"required"`
	To      uuid.UUID `json:"to" binding:"required"`
	Spender uuid.UUID `json:"spender"`
	Amount  string    `json:"amount" binding:"required"`
}

type approveRequest struct {
	Owner   uuid.UUID `json:"owner" binding:"required"`
	Spender uuid.UUID `json:"spender" binding:"required"`
	Amount  string    `json:"amount" binding:"required"`
}

type issueRequest struct {
	Buyer  uuid.UUID `json:"buyer" binding:"required"`
	Amount string    `json:"amount" binding:"required"`
}

type redeemRequest struct {
	Redeemer uuid.UUID `json:"redeemer" binding:"required"`
	Amount   string    `json:"amount" binding:"required"`
}

type depositRequest struct {
	Depositor uuid.UUID `json:"depositor" binding:"required"`
	Amount    string    `json:"amount" binding:"required"`
}

type claimRequest struct {
	Claimer uuid.UUID `json:"claimer" binding:"required"`
}

func parseAmount(s string) (*uint256.Int, bool) {
	amount, err := uint256.FromDecimal(s)
	return amount, err == nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, guard.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, token.ErrZeroAmount),
		errors.Is(err, token.ErrZeroAddress),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, vault.ErrIssuanceClosed),
		errors.Is(err, vault.ErrBelowMinimumLiquidity),
		errors.Is(err, vault.ErrBelowMinimumTransfer),
		errors.Is(err, vault.ErrNoSharesOutstanding),
		errors.Is(err, vault.ErrPayoutRoundsToZero),
		errors.Is(err, claim.ErrBelowMinimumDeposit),
		errors.Is(err, claim.ErrBelowMinimumTransfer),
		errors.Is(err, claim.ErrNothingToClaim),
		errors.Is(err, claim.ErrNoSharesOutstanding),
		errors.Is(err, claim.ErrEmptyPool),
		errors.Is(err, claim.ErrPayoutRoundsToZero),
		errors.Is(err, oracle.ErrCooldownActive),
		errors.Is(err, oracle.ErrZeroSourceSupply),
		errors.Is(err, oracle.ErrDegenerateWeight):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (g *Gateway) lookupVault(c *gin.Context) (*vault.ReserveVault, bool) {
	v, ok := g.vaults[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vault"})
		return nil, false
	}
	return v, true
}

func (g *Gateway) issueShares(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}

	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	minted, err := v.IssueShares(c.Request.Context(), req.Buyer, amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": minted.Dec()})
}

func (g *Gateway) redeemShares(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	payout, err := v.RedeemShares(c.Request.Context(), req.Redeemer, amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout.Dec()})
}

func (g *Gateway) transferShares(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	var err error
	if req.Spender != uuid.Nil {
		err = v.TransferFrom(c.Request.Context(), req.Spender, req.From, req.To, amount)
	} else {
		err = v.Transfer(c.Request.Context(), req.From, req.To, amount)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) approveShares(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	if err := v.Approve(req.Owner, req.Spender, amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) vaultMetrics(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.GetContractMetrics())
}

func (g *Gateway) issuanceStatus(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}
	active, remaining := v.GetIssuanceStatus()
	c.JSON(http.StatusOK, gin.H{
		"is_active":      active,
		"time_remaining": remaining.Seconds(),
	})
}

func (g *Gateway) vaultBalance(c *gin.Context) {
	v, ok := g.lookupVault(c)
	if !ok {
		return
	}
	account, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": v.BalanceOf(account).Dec()})
}

func (g *Gateway) depositTokens(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	if err := g.claims.Deposit(c.Request.Context(), req.Depositor, amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) claimShares(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	minted, err := g.claims.ClaimShares(c.Request.Context(), req.Claimer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": minted.Dec()})
}

func (g *Gateway) redeemClaims(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	payout, err := g.claims.RedeemShares(c.Request.Context(), req.Redeemer, amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": payout.Dec()})
}

func (g *Gateway) transferClaims(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	if err := g.claims.Transfer(c.Request.Context(), req.From, req.To, amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) claimMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, g.claims.GetContractMetrics())
}

func (g *Gateway) claimEligibility(c *gin.Context) {
	account, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account"})
		return
	}
	c.JSON(http.StatusOK, g.claims.GetClaimEligibility(account))
}

func (g *Gateway) claimBalance(c *gin.Context) {
	account, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": g.claims.BalanceOf(account).Dec()})
}

func (g *Gateway) updateWeight(c *gin.Context) {
	weight, err := g.claims.UpdateWeight(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weight": weight.Dec()})
}

func (g *Gateway) currentWeight(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"weight":      g.claims.CurrentWeight().Dec(),
		"last_update": g.claims.LastWeightUpdate(),
	})
}

func (g *Gateway) recentEvents(c *gin.Context) {
	if g.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive not configured"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var (
		events []archive.StoredEvent
		err    error
	)
	if subject := c.Query("subject"); subject != "" {
		events, err = g.events.RecentBySubject(c.Request.Context(), subject, limit)
	} else {
		events, err = g.events.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// WebSocket event stream

func (g *Gateway) subscribeEvents() error {
	for _, subject := range archive.Subjects {
		if err := g.msgClient.Subscribe(subject, func(msg *nats.Msg) {
			g.broadcast(msg.Data)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) broadcast(payload []byte) {
	g.wsMu.RLock()
	defer g.wsMu.RUnlock()

	for _, client := range g.wsClients {
		select {
		case client.Send <- payload:
		default:
			// Slow observer; drop rather than block the event path.
		}
	}
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:   uuid.New(),
		Conn: conn,
		Send: make(chan []byte, 64),
		Done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.writePump(client)
	go g.readPump(client)
}

func (g *Gateway) writePump(client *WSClient) {
	defer client.Conn.Close()

	for {
		select {
		case payload := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.removeClient(client)
				return
			}
		case <-client.Done:
			return
		}
	}
}

func (g *Gateway) readPump(client *WSClient) {
	defer func() {
		g.removeClient(client)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) removeClient(client *WSClient) {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()

	if _, ok := g.wsClients[client.ID]; ok {
		delete(g.wsClients, client.ID)
		close(client.Done)
	}
}
