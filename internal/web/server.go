package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/windrose-labs/plm/internal/logger"
	"github.com/windrose-labs/plm/internal/state"
	"github.com/windrose-labs/plm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// StatusSource exposes the latest controller status to the web layer.
type StatusSource interface {
	Status() types.ControllerStatus
}

// WebServer handles HTTP requests for controller status and the journal
type WebServer struct {
	router     *mux.Router
	port       string
	configName string
	status     StatusSource
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, configName string, status StatusSource) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		configName: configName,
		status:     status,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleGetStatus).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/receipts/{id}", ws.handleGetReceipt).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/journal/summary", ws.handleGetJournalSummary).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server and shuts it down when ctx is canceled.
func (ws *WebServer) Start(ctx context.Context) error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		webLogger.Info().Msg("Shutting down web server")
		return server.Shutdown(shutdownCtx)
	}
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Get latest cycle information from the controller
	controllerStatus := ws.status.Status()
	var cycleInfo map[string]interface{}
	var hasErrors bool
	var lastCycleTime *time.Time

	if controllerStatus.CycleID != "" {
		cycleInfo = map[string]interface{}{
			"current_cycle":     controllerStatus.CycleNumber,
			"cycle_id":          controllerStatus.CycleID,
			"last_cycle_time":   controllerStatus.FinishedAt,
			"positions_managed": len(controllerStatus.Positions),
			"fetch_errors":      len(controllerStatus.FetchErrors),
		}
		hasErrors = len(controllerStatus.FetchErrors) > 0
		lastCycleTime = &controllerStatus.FinishedAt
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":     0,
			"cycle_id":          nil,
			"last_cycle_time":   nil,
			"positions_managed": 0,
			"fetch_errors":      0,
		}
		hasErrors = true // No cycle has completed yet
	}

	// Get database connection status
	dbHealthy := true
	dbErr := state.TestDBConnection()
	if dbErr != nil {
		dbHealthy = false
		hasErrors = true
	}

	// Journal statistics are informative only; a query failure here does not
	// flip the health status on its own.
	var journal *state.JournalSummary
	if dbHealthy {
		var journalErr error
		journal, journalErr = state.GetJournalSummary()
		if journalErr != nil {
			webLogger.Error().Err(journalErr).Msg("Failed to get journal summary for health check")
		}
	}

	// Determine overall status
	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	// Calculate staleness based on last cycle time
	var secondsSinceLastCycle int64
	if lastCycleTime != nil && !lastCycleTime.IsZero() {
		secondsSinceLastCycle = int64(time.Since(*lastCycleTime).Seconds())
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":                  runtime.Version(),
			"goroutines_count":         runtime.NumGoroutine(),
			"total_alloc_bytes":        memStats.TotalAlloc,
			"heap_objects_count":       memStats.HeapObjects,
			"alloc_bytes":              memStats.Alloc,
			"sys_bytes":                memStats.Sys,
			"gc_cycles":                memStats.NumGC,
			"seconds_since_last_cycle": secondsSinceLastCycle,
		},
		"component": map[string]interface{}{
			"name":    "plm-position-liquidity-manager",
			"version": "1.0.0",
		},
		"plm_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
			"journal":           journal,
		},
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetStatus returns the latest controller status
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	controllerStatus := ws.status.Status()
	if controllerStatus.CycleID == "" {
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycle has completed yet")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, controllerStatus)
}

// handleGetReceipts returns recent journal rows
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	receipts, err := state.GetRecentReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipt returns a specific receipt by ID
func (ws *WebServer) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid receipt ID")
		return
	}

	receipt, err := state.GetReceiptByID(id)
	if err != nil {
		webLogger.Error().Err(err).Int64("receiptId", id).Msg("Failed to get receipt")
		ws.writeErrorResponse(w, http.StatusNotFound, "Receipt not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// handleGetParameters returns the active control parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	record, err := state.LoadActiveControlParameters(ws.configName)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get control parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve control parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": record,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetJournalSummary returns aggregated journal statistics
func (ws *WebServer) handleGetJournalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetJournalSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get journal summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve journal summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
