// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/command"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/receipt"
	"github.com/thereceipt/bleprint/internal/registry"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

const maxReceiptBytes = 1 << 20

// Server is the API server
type Server struct {
	router    *gin.Engine
	service   *printer.Service
	discovery *printer.Discovery
	registry  *registry.Registry
	executor  *command.Executor
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewServer creates a new API server. mode is a gin mode; "" means release.
func NewServer(service *printer.Service, discovery *printer.Discovery, reg *registry.Registry, mode string, log *zap.Logger) *Server {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), corsMiddleware())

	server := &Server{
		router:    router,
		service:   service,
		discovery: discovery,
		registry:  reg,
		executor:  command.NewExecutor(service, discovery, reg),
		log:       log.Named("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Connection
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/scan", s.handleScan)
	s.router.POST("/connect", s.handleConnect)
	s.router.POST("/disconnect", s.handleDisconnect)

	// Printing
	s.router.POST("/print", s.handlePrint)
	s.router.POST("/print/auto", s.handleAutoPrint)
	s.router.POST("/preview", s.handlePreview)
	s.router.POST("/selftest", s.handleSelfTest)
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)

	// Remembered printers
	s.router.GET("/printers", s.handleGetPrinters)
	s.router.POST("/printer/:id/name", s.handleSetPrinterName)

	s.router.POST("/command", s.handleCommand)
	s.router.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// httpStatus maps printer errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, printer.ErrInvalidReceipt):
		return http.StatusBadRequest
	case errors.Is(err, printer.ErrNoDeviceFound), errors.Is(err, printer.ErrUserCancelled):
		return http.StatusNotFound
	case errors.Is(err, printer.ErrPrinterBusy):
		return http.StatusConflict
	case errors.Is(err, printer.ErrUnsupportedDevice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, printer.ErrNotConnected),
		errors.Is(err, printer.ErrConnectionLost),
		errors.Is(err, printer.ErrBluetoothUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, printer.ErrConnectTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, printer.ErrCommunication), errors.Is(err, printer.ErrPartialCommandFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{"success": false, "error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(httpStatus(err), body)
}

func (s *Server) statusBody() gin.H {
	m := s.service.Manager()
	body := gin.H{"status": m.Status()}
	if link, ok := m.Link(); ok {
		body["link"] = link
	}
	return body
}

func (s *Server) handleStatus(c *gin.Context) {
	body := s.statusBody()
	body["settings"] = s.service.Settings()
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleScan(c *gin.Context) {
	devices, err := s.discovery.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// handleConnect connects by address, by advertised name, or to the
// strongest printer in range when neither is given.
func (s *Server) handleConnect(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	m := s.service.Manager()

	var err error
	if req.Address != "" {
		err = m.ConnectAddress(ctx, req.Address)
	} else {
		choose := printer.ChooseFirst
		if req.Name != "" {
			choose = printer.ChooseByName(req.Name)
		}
		var dev printer.PrinterDevice
		if dev, err = s.discovery.Scan(ctx, choose); err == nil {
			err = m.Connect(ctx, dev)
		}
	}
	if err != nil {
		abortWithError(c, err, nil)
		return
	}

	body := s.statusBody()
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.service.Manager().Disconnect(); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func readReceipt(c *gin.Context) (*receiptformat.Receipt, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReceiptBytes))
	if err != nil {
		return nil, err
	}
	return receiptformat.Parse(data)
}

// handlePrint prints a receipt descriptor and waits for the job.
func (s *Server) handlePrint(c *gin.Context) {
	receipt, err := readReceipt(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid receipt: " + err.Error()})
		return
	}

	res, err := s.service.PrintReceipt(receipt)
	s.respondJob(c, res, err)
}

// handleAutoPrint starts a background print when auto-print is enabled. It
// never reports a printer failure to the caller.
func (s *Server) handleAutoPrint(c *gin.Context) {
	receipt, err := readReceipt(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid receipt: " + err.Error()})
		return
	}

	started := s.service.AutoPrint(receipt)
	c.JSON(http.StatusAccepted, gin.H{"success": true, "started": started})
}

// handlePreview compiles a receipt and returns it as plain text.
func (s *Server) handlePreview(c *gin.Context) {
	r, err := readReceipt(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid receipt: " + err.Error()})
		return
	}

	cmds, err := s.service.Compile(r)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	width, _ := receipt.LineLength(s.service.Settings().PaperWidth)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"commands": len(cmds),
		"text":     receipt.PlainText(cmds, width),
	})
}

func (s *Server) handleSelfTest(c *gin.Context) {
	res, err := s.service.PrintSelfTest()
	s.respondJob(c, res, err)
}

func (s *Server) respondJob(c *gin.Context, res *printer.JobResult, err error) {
	if err != nil {
		extra := gin.H{}
		if res != nil {
			extra["job"] = res
		}
		abortWithError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": res})
}

// handleGetJobs returns recent print jobs, newest first
func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.service.Jobs().GetAllJobs()})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	job := s.service.Jobs().GetJob(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleGetPrinters returns remembered printers
func (s *Server) handleGetPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"printers": s.registry.GetAll()})
}

// handleSetPrinterName sets a custom name for a printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	printerID := c.Param("id")

	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if err := s.registry.SetPrinterName(printerID, req.Name); err != nil {
		if errors.Is(err, registry.ErrUnknownPrinter) {
			c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)

	if !result.Success {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   result.Error,
		})
		return
	}

	response := gin.H{"success": true}
	if result.Message != "" {
		response["message"] = result.Message
	}
	for k, v := range result.Data {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
