// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tillworks/posprint/internal/controller"
	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

const proxyDialTimeout = 5 * time.Second

// Server is the API server
type Server struct {
	router   *gin.Engine
	ctrl     *controller.Controller
	log      zerolog.Logger
	upgrader websocket.Upgrader
	hub      *wsHub
}

// NewServer creates a new API server
func NewServer(ctrl *controller.Controller, log zerolog.Logger) *Server {
	// Set Gin to release mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(corsMiddleware())

	server := &Server{
		router: router,
		ctrl:   ctrl,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		hub: newWSHub(),
	}

	// Every recorded job, success or failure, is pushed to listeners
	ctrl.OnJob(server.BroadcastJob)

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	// Printer configuration
	s.router.POST("/printer/initialize", s.handleInitialize)
	s.router.GET("/printer/status", s.handleStatus)
	s.router.POST("/printer/disconnect", s.handleDisconnect)

	// Printing
	s.router.POST("/print/receipt", s.handlePrintReceipt)
	s.router.POST("/print/return", s.handlePrintReturn)
	s.router.POST("/print/test", s.handlePrintTest)

	// Job audit log
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/jobs/:id", s.handleGetJob)

	// Network print relay for clients that cannot reach the printer's
	// subnet themselves
	s.router.POST("/api/print", s.handleRelayPrint)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// tenantID extracts the tenant from the request. Every data-bearing
// endpoint is scoped by it.
func tenantID(c *gin.Context) string {
	return c.GetHeader("X-Tenant-ID")
}

func requireTenant(c *gin.Context) (string, bool) {
	id := tenantID(c)
	if id == "" {
		c.JSON(400, gin.H{"error": "X-Tenant-ID header is required"})
		return "", false
	}
	return id, true
}

// handleInitialize validates and saves a printer configuration
func (s *Server) handleInitialize(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	var req struct {
		PrinterType   string         `json:"printer_type" binding:"required"`
		DeviceAddress string         `json:"device_address" binding:"required"`
		PrinterName   string         `json:"printer_name"`
		Options       map[string]any `json:"options"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "printer_type and device_address are required"})
		return
	}

	result, err := s.ctrl.Initialize(c.Request.Context(), userID, controller.InitRequest{
		PrinterType:   req.PrinterType,
		DeviceAddress: req.DeviceAddress,
		PrinterName:   req.PrinterName,
		Options:       req.Options,
	})
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"success":   true,
		"state":     result.State,
		"connected": result.Connected,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	c.JSON(200, resp)
}

// handleStatus returns the derived connection state
func (s *Server) handleStatus(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	status, err := s.ctrl.Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to load printer status"})
		return
	}

	resp := gin.H{
		"state":     status.State,
		"connected": status.Connected,
	}
	if status.Config != nil {
		resp["printer"] = gin.H{
			"printer_type":   status.Config.PrinterType,
			"device_address": status.Config.DeviceAddress,
			"printer_name":   status.Config.PrinterName,
		}
	}
	c.JSON(200, resp)
}

// handleDisconnect deactivates the active configuration
func (s *Server) handleDisconnect(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	if err := s.ctrl.Disconnect(c.Request.Context(), userID); err != nil {
		c.JSON(500, gin.H{"error": "failed to disconnect printer"})
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handlePrintReceipt(c *gin.Context) {
	s.handlePrintRef(c, "order_id", s.ctrl.PrintReceipt)
}

func (s *Server) handlePrintReturn(c *gin.Context) {
	s.handlePrintRef(c, "return_id", s.ctrl.PrintReturnReceipt)
}

// handlePrintRef runs a print keyed by a reference ID and maps the
// outcome to a response. Failed prints still return the job's
// user-facing message; the raw transport error never leaves the server.
func (s *Server) handlePrintRef(c *gin.Context, field string, print func(ctx context.Context, userID, refID string) error) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": field + " is required"})
		return
	}
	refID, _ := body[field].(string)
	if refID == "" {
		c.JSON(400, gin.H{"error": field + " is required"})
		return
	}

	s.respondPrint(c, print(c.Request.Context(), userID, refID))
}

// handlePrintTest prints the alignment test page
func (s *Server) handlePrintTest(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}
	s.respondPrint(c, s.ctrl.PrintTestPage(c.Request.Context(), userID))
}

func (s *Server) respondPrint(c *gin.Context, err error) {
	if err == nil {
		c.JSON(200, gin.H{"success": true})
		return
	}

	if errors.Is(err, controller.ErrNotConfigured) {
		c.JSON(409, gin.H{"error": "no printer configured"})
		return
	}

	var printErr *controller.PrintError
	if errors.As(err, &printErr) {
		c.JSON(502, gin.H{"success": false, "error": printErr.Message})
		return
	}

	c.JSON(400, gin.H{"error": err.Error()})
}

// handleGetJobs returns the tenant's recent print jobs
func (s *Server) handleGetJobs(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	jobs, err := s.ctrl.Jobs(c.Request.Context(), userID, 0)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to load print jobs"})
		return
	}

	jobsData := make([]gin.H, len(jobs))
	for i, job := range jobs {
		jobsData[i] = jobJSON(job)
	}
	c.JSON(200, gin.H{"jobs": jobsData})
}

// handleGetJob returns one print job with its receipt text
func (s *Server) handleGetJob(c *gin.Context) {
	userID, ok := requireTenant(c)
	if !ok {
		return
	}

	job, err := s.ctrl.Job(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to load print job"})
		return
	}
	if job == nil {
		c.JSON(404, gin.H{"error": "job not found"})
		return
	}

	data := jobJSON(*job)
	data["receipt_text"] = job.ReceiptText
	c.JSON(200, data)
}

// handleRelayPrint forwards raw printer bytes to a network printer over
// TCP on behalf of a client that cannot reach it directly.
func (s *Server) handleRelayPrint(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		Data    []int  `json:"data" binding:"required"`
		Type    string `json:"type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "address and data are required"})
		return
	}

	if err := transport.ValidateNetworkAddress(req.Address); err != nil {
		c.JSON(400, gin.H{"error": "invalid printer address"})
		return
	}

	payload := make([]byte, len(req.Data))
	for i, b := range req.Data {
		payload[i] = byte(b)
	}

	conn, err := net.DialTimeout("tcp", req.Address, proxyDialTimeout)
	if err != nil {
		s.log.Warn().Err(err).Str("address", req.Address).Msg("relay print: printer unreachable")
		c.JSON(502, gin.H{"error": "printer unreachable"})
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(proxyDialTimeout))
	if _, err := conn.Write(payload); err != nil {
		s.log.Warn().Err(err).Str("address", req.Address).Msg("relay print: write failed")
		c.JSON(502, gin.H{"error": "failed to write to printer"})
		return
	}

	c.JSON(200, gin.H{"success": true})
}

func jobJSON(job store.PrintJob) gin.H {
	data := gin.H{
		"id":           job.ID,
		"job_type":     job.JobType,
		"order_id":     job.OrderID,
		"status":       job.Status,
		"attempted_at": job.AttemptedAt,
	}
	if job.PrintedAt != nil {
		data["printed_at"] = job.PrintedAt
	}
	if job.ErrorMessage != "" {
		data["error"] = job.ErrorMessage
	}
	return data
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
