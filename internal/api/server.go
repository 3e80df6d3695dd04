// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/pending"
	"github.com/shield-wallet/internal/types"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// WalletServiceInterface defines the interface for wallet custody operations
type WalletServiceInterface interface {
	CreateWallet(ctx context.Context, userID, password string) (*models.Wallet, error)
	DeployWallet(ctx context.Context, userID, password string) (*models.Wallet, error)
	GetWalletByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error)
	RotatePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// SessionServiceInterface defines the interface for session lifecycle operations
type SessionServiceInterface interface {
	GetOrCreateSession(ctx context.Context, userID, externalID, passwordHash string) (*models.Session, error)
	GetSession(ctx context.Context, token string) (*models.Session, error)
	UnlockWallet(ctx context.Context, token, password string, wallet *models.Wallet) (*models.Session, error)
	IsWalletUnlocked(ctx context.Context, token string) bool
	LockWallet(ctx context.Context, token string) error
	LockSession(ctx context.Context, token string) error
	ExtendKeyUnlock(ctx context.Context, token string, minutes int) (*models.Session, error)
	InvalidateSession(ctx context.Context, token string) error
}

// NoteServiceInterface defines the interface for shielded note queries
type NoteServiceInterface interface {
	UnspentBalanceByToken(ctx context.Context, owner string) ([]*types.TokenBalance, error)
	SelectNotesForSpend(ctx context.Context, owner, token string, targetAmount decimal.Decimal) ([]*models.Note, decimal.Decimal, error)
	ListNotes(ctx context.Context, owner string, limit, offset int) ([]*models.Note, error)
}

// TransferServiceInterface defines the interface for orchestrated transfers
type TransferServiceInterface interface {
	Shield(ctx context.Context, sessionToken, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error)
	PrivateTransfer(ctx context.Context, sessionToken, recipient, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error)
	Unshield(ctx context.Context, sessionToken, tokenAddr string, amount decimal.Decimal, withdrawAddress string, tokenSymbol *string) (*models.Transaction, error)
	Send(ctx context.Context, sessionToken, recipient, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error)
	GetTransactionByHash(ctx context.Context, txHash string) (*models.Transaction, error)
}

// PendingStoreInterface defines the interface for parked operations
type PendingStoreInterface interface {
	Put(ctx context.Context, identity string, op *pending.Op) error
	Get(ctx context.Context, identity string) (*pending.Op, error)
	Clear(ctx context.Context, identity string) error
}

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	walletService   WalletServiceInterface
	sessionService  SessionServiceInterface
	noteService     NoteServiceInterface
	transferService TransferServiceInterface
	pendingStore    PendingStoreInterface
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	walletService WalletServiceInterface,
	sessionService SessionServiceInterface,
	noteService NoteServiceInterface,
	transferService TransferServiceInterface,
	pendingStore PendingStoreInterface,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		walletService:   walletService,
		sessionService:  sessionService,
		noteService:     noteService,
		transferService: transferService,
		pendingStore:    pendingStore,
		config:          config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: recovery must wrap everything below it
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet endpoints
	api.HandleFunc("/wallets", s.handleCreateWallet).Methods("POST")
	api.HandleFunc("/wallets/deploy", s.handleDeployWallet).Methods("POST")
	api.HandleFunc("/wallets/rotate-password", s.handleRotatePassword).Methods("POST")
	api.HandleFunc("/wallets/{userId}", s.handleGetWallet).Methods("GET")

	// Session endpoints
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleInvalidateSession).Methods("DELETE")
	api.HandleFunc("/sessions/status", s.handleSessionStatus).Methods("GET")
	api.HandleFunc("/sessions/unlock", s.handleUnlockWallet).Methods("POST")
	api.HandleFunc("/sessions/lock", s.handleLockWallet).Methods("POST")
	api.HandleFunc("/sessions/lock-session", s.handleLockSession).Methods("POST")
	api.HandleFunc("/sessions/extend", s.handleExtendKeyUnlock).Methods("POST")

	// Note endpoints
	api.HandleFunc("/notes", s.handleListNotes).Methods("GET")
	api.HandleFunc("/notes/balances", s.handleNoteBalances).Methods("GET")
	api.HandleFunc("/notes/spend-preview", s.handleSpendPreview).Methods("POST")

	// Transfer endpoints
	api.HandleFunc("/transfers/shield", s.handleShield).Methods("POST")
	api.HandleFunc("/transfers/private", s.handlePrivateTransfer).Methods("POST")
	api.HandleFunc("/transfers/unshield", s.handleUnshield).Methods("POST")
	api.HandleFunc("/transfers/send", s.handleSend).Methods("POST")

	// Transaction endpoints
	api.HandleFunc("/transactions", s.handleTransactionHistory).Methods("GET")
	api.HandleFunc("/transactions/{hash}", s.handleGetTransaction).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "shield-wallet",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
