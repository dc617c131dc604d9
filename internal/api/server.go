package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/eip712"
	"github.com/1inch/swap-coordinator/internal/gateway"
	"github.com/1inch/swap-coordinator/internal/lifecycle"
	"github.com/1inch/swap-coordinator/internal/metrics"
	"github.com/1inch/swap-coordinator/internal/oracle"
	"github.com/1inch/swap-coordinator/internal/pricing"
	"github.com/1inch/swap-coordinator/internal/store"
	"github.com/1inch/swap-coordinator/internal/types"
)

// Server is the coordinator's control plane: makers submit orders, resolvers
// drive the settlement handshake, and operators read health and stats.
type Server struct {
	cfg        config.API
	controller *lifecycle.Controller
	metrics    *metrics.Metrics
	httpServer *http.Server
}

// NewServer builds the control plane over the lifecycle controller.
func NewServer(cfg config.API, controller *lifecycle.Controller, m *metrics.Metrics) *Server {
	s := &Server{cfg: cfg, controller: controller, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("/swaps", s.handleSwaps)
	mux.HandleFunc("/swaps/", s.handleSwap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", m.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("API: listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		log.Printf("API: shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleSwaps routes the collection endpoint: POST admits, GET lists.
func (s *Server) handleSwaps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSwap(w, r)
	case http.MethodGet:
		s.activeSwaps(w, r)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSwap routes /swaps/{id} and its sub-resources.
func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/swaps/")
	parts := strings.SplitN(rest, "/", 2)

	if len(parts[0]) != 66 || !strings.HasPrefix(parts[0], "0x") {
		writeErrorResponse(w, http.StatusBadRequest, "invalid order id")
		return
	}
	orderID := common.HexToHash(parts[0])

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.getSwap(w, r, orderID)
	case sub == "commit" && r.Method == http.MethodPost:
		s.commitSwap(w, r, orderID)
	case sub == "escrows" && r.Method == http.MethodPost:
		s.escrowsReady(w, r, orderID)
	case sub == "settlement" && r.Method == http.MethodPost:
		s.notifySettlement(w, r, orderID)
	case sub == "rescue" && r.Method == http.MethodPost:
		s.rescueSwap(w, r, orderID)
	case sub == "price" && r.Method == http.MethodGet:
		s.getPrice(w, r, orderID)
	case sub == "secret" && r.Method == http.MethodGet:
		s.getSecretStatus(w, r, orderID)
	default:
		writeErrorResponse(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) createSwap(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := s.controller.Admit(r.Context(), &req.Intent, req.Signature, req.Preimage)
	if err != nil {
		if errors.Is(err, lifecycle.ErrDuplicateOrder) && order != nil {
			// The intent is already admitted; acknowledge with the stored order.
			writeErrorResponse(w, http.StatusConflict, "order already exists: "+order.ID.Hex())
			return
		}
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, types.CreateSwapResponse{
		OrderID:     order.ID,
		MarketPrice: order.MarketPrice,
		ExpiresAt:   order.ExpiresAt,
	})
}

func (s *Server) activeSwaps(w http.ResponseWriter, r *http.Request) {
	orders, err := s.controller.ActiveOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, types.ActiveOrdersResponse{Orders: orders, Count: len(orders)})
}

func (s *Server) getSwap(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	order, err := s.controller.Order(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, order)
}

func (s *Server) commitSwap(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	var req types.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.controller.Commit(r.Context(), orderID, req.Resolver, req.AcceptedPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) escrowsReady(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	var req types.EscrowsReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	log.Printf("API: escrows reported for order %s (src deposit %s, dst deposit %s)",
		orderID.Hex(), req.SrcDepositTx, req.DstDepositTx)

	if err := s.controller.EscrowsReady(r.Context(), orderID, req.Resolver, req.SrcEscrow, req.DstEscrow); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) notifySettlement(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	var req types.SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.controller.NotifySettlement(r.Context(), orderID, req.Resolver, req.DstTokenAmount, req.DstTxHash); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) rescueSwap(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	var req types.RescueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.controller.Rescue(r.Context(), orderID, req.Resolver, req.AcceptedPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	resp, err := s.controller.Price(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) getSecretStatus(w http.ResponseWriter, r *http.Request, orderID common.Hash) {
	resolverParam := r.URL.Query().Get("resolver")
	if !common.IsHexAddress(resolverParam) {
		writeErrorResponse(w, http.StatusBadRequest, "missing or invalid resolver parameter")
		return
	}

	resp, err := s.controller.SecretStatus(r.Context(), orderID, common.HexToAddress(resolverParam))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.controller.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

// writeError maps a lifecycle error to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	writeErrorResponse(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, eip712.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, lifecycle.ErrWrongResolver):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrWrongState),
		errors.Is(err, lifecycle.ErrDuplicateOrder),
		errors.Is(err, lifecycle.ErrOrderExpired),
		errors.Is(err, lifecycle.ErrSecretNotRevealed),
		errors.Is(err, gateway.ErrInsufficientAllowance):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrQuoteOutOfBand),
		errors.Is(err, lifecycle.ErrUnderfunded),
		errors.Is(err, oracle.ErrNoQuote):
		return http.StatusUnprocessableEntity
	case errors.Is(err, eip712.ErrMalformedIntent),
		errors.Is(err, eip712.ErrUnknownChain),
		errors.Is(err, lifecycle.ErrHashMismatch),
		errors.Is(err, lifecycle.ErrIntentExpired):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrTxNotFound),
		errors.Is(err, gateway.ErrTxReverted),
		errors.Is(err, gateway.ErrRejected),
		errors.Is(err, gateway.ErrNotAuthorized):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

// corsMiddleware allows browser-based resolver dashboards to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
