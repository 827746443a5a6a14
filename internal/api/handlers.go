package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/gateway"
)

// ─── Accounts ───────────────────────────────────────────────────────────────

type createAccountRequest struct {
	AccountID string `json:"account_id"`
	Class     string `json:"class"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	class := domain.ClassStandard
	switch req.Class {
	case "", string(domain.ClassStandard):
	case string(domain.ClassElevated):
		class = domain.ClassElevated
	default:
		writeError(w, http.StatusBadRequest, "class must be standard or elevated")
		return
	}

	account, err := s.ledger.EnsureAccount(r.Context(), req.AccountID, class)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.Balance(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := s.ledger.History(r.Context(), chi.URLParam(r, "accountID"), limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
	})
}

type creditRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		req.Description = "manual refill"
	}

	tx, err := s.ledger.Credit(r.Context(), chi.URLParam(r, "accountID"), req.Amount, domain.KindBalanceRefill, req.Description)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ─── Chat ───────────────────────────────────────────────────────────────────

type chatRequest struct {
	AccountID string `json:"account_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply   string `json:"reply"`
	Charged int64  `json:"charged"`
}

// handleChat meters a chat completion: the debit lands first, and it is
// not refunded if the remote call fails afterwards.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "account_id and message are required")
		return
	}

	// First use provisions a standard account with its initial grant.
	if _, err := s.ledger.EnsureAccount(r.Context(), req.AccountID, domain.ClassStandard); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	if _, err := s.ledger.Debit(r.Context(), req.AccountID, s.costs.Chat, domain.KindChatCompletion, "chat completion", nil); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	reply, err := s.gw.ChatCompletion(r.Context(), req.Message)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, Charged: s.costs.Chat})
}

// ─── Knowledge Sync ─────────────────────────────────────────────────────────

type syncRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	if _, err := s.ledger.EnsureAccount(r.Context(), req.AccountID, domain.ClassStandard); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	items, err := s.catalog.Items(r.Context())
	if err != nil {
		log.Printf("[api] catalog load failed: %v", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}

	report, err := s.rec.Reconcile(r.Context(), req.AccountID, items)
	if err != nil {
		log.Printf("[api] sync failed: %v", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type knowledgeStatusResponse struct {
	LocalID      string `json:"local_id"`
	Status       string `json:"status"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
}

// handleKnowledgeStatus reports per-entry sync state. Remote IDs and
// fingerprints are internal bookkeeping and stay out of the response.
func (s *Server) handleKnowledgeStatus(w http.ResponseWriter, r *http.Request) {
	entry, err := s.entries.GetEntry(r.Context(), chi.URLParam(r, "localID"))
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "knowledge entry not found")
			return
		}
		log.Printf("[api] knowledge status lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := knowledgeStatusResponse{
		LocalID: entry.LocalID,
		Status:  string(entry.Status),
	}
	if !entry.LastSyncedAt.IsZero() {
		resp.LastSyncedAt = entry.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Assistant Session ──────────────────────────────────────────────────────

type reinitializeRequest struct {
	AccountID string `json:"account_id"`
}

// handleReinitialize discards the current assistant replica and
// establishes a fresh one, charging the replica creation cost.
func (s *Server) handleReinitialize(w http.ResponseWriter, r *http.Request) {
	var req reinitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	if _, err := s.ledger.Debit(r.Context(), req.AccountID, s.costs.Replica, domain.KindReplicaCreation, "assistant reinitialization", nil); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	session, err := s.gw.Reinitialize(r.Context())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "reinitialized",
		"established_at": session.EstablishedAt.UTC().Format(time.RFC3339),
	})
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be positive")
	default:
		log.Printf("[api] ledger error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	if gateway.OutcomeOf(err).Transient() {
		writeError(w, http.StatusServiceUnavailable, "assistant temporarily unavailable")
		return
	}
	log.Printf("[api] gateway error: %v", err)
	writeError(w, http.StatusBadGateway, "assistant request failed")
}
