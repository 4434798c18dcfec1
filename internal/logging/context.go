package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// LaunchContext creates a logger context for a bonding-curve launch event
func LaunchContext(mint, deployer string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint":     mint,
		"deployer": deployer,
	}).WithComponent("launch")
}

// ExecutionContext creates a logger context for an execution-plan dispatch
func ExecutionContext(planID, mint, action string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"plan_id": planID,
		"mint":    mint,
		"action":  action,
	}).WithComponent("execution")
}

// PositionContext creates a logger context for position operations
func PositionContext(positionID, mint string, entryPrice float64, tokenBalance uint64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"position_id":   positionID,
		"mint":          mint,
		"entry_price":   entryPrice,
		"token_balance": tokenBalance,
	}).WithComponent("position")
}

// PatternContext creates a logger context for wallet-cluster pattern detection
func PatternContext(patternID, patternType string, matchedWallets int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"pattern_id":      patternID,
		"pattern_type":    patternType,
		"matched_wallets": matchedWallets,
	}).WithComponent("pattern")
}

// SignalContext creates a logger context for signal bus activity
func SignalContext(channel, source string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"channel":    channel,
		"source":     source,
		"confidence": confidence,
	}).WithComponent("signal")
}

// AgentContext creates a logger context for a swarm agent's tick loop
func AgentContext(role string, tick int64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"role": role,
		"tick": tick,
	}).WithComponent("agent")
}

// RiskContext creates a logger context for risk-engine evaluations
func RiskContext(mint string, riskScore float64, positionSizeBase uint64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint":               mint,
		"risk_score":         riskScore,
		"position_size_base": positionSizeBase,
	}).WithComponent("risk")
}

// APIContext creates a logger context for API operations
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// ChainStreamContext creates a logger context for RPC websocket subscriptions
func ChainStreamContext(programID, subscription string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"program_id":   programID,
		"subscription": subscription,
	}).WithComponent("chainstream")
}

// HTTPMiddleware is a middleware that adds logging to HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		// Create logger with request context
		l := Default().WithTraceID(traceID).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		}).WithComponent("http")

		// Add logger to context
		ctx := NewContext(r.Context(), l)
		r = r.WithContext(ctx)

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call next handler
		next.ServeHTTP(wrapped, r)

		// Log request completion
		duration := time.Since(start)
		l.WithDuration(duration).WithField("status_code", wrapped.statusCode).Info("Request completed")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RPCContext creates a logger context for Solana RPC calls
func RPCContext(method string, params map[string]interface{}) *Logger {
	l := Default().WithFields(map[string]interface{}{
		"method": method,
	}).WithComponent("rpc")

	// Add safe params (exclude signing material)
	for k, v := range params {
		if k != "signature" && k != "privateKey" {
			l = l.WithField(k, v)
		}
	}

	return l
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// NotificationContext creates a logger context for notifications
func NotificationContext(provider, recipient string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider":  provider,
		"recipient": recipient,
	}).WithComponent("notification")
}
