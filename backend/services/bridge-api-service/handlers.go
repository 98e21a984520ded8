package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/alienbridge/teleport/backend/pkg/common"
	"github.com/alienbridge/teleport/backend/pkg/common/api"
)

// Invoker is the slice of the Fabric client the handlers need. Tests swap in
// a fake.
type Invoker interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
	EvaluateTransaction(name string, args ...string) ([]byte, error)
}

type Server struct {
	invoker   Invoker
	db        *sql.DB
	jwtSecret []byte
	hub       *Hub
}

func NewServer(invoker Invoker, db *sql.DB, jwtSecret []byte, hub *Hub) *Server {
	return &Server{invoker: invoker, db: db, jwtSecret: jwtSecret, hub: hub}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods("POST")

	// Public read surface, served from the ledger.
	r.HandleFunc("/api/v1/stats", s.handleGetStats).Methods("GET")
	r.HandleFunc("/api/v1/chains", s.handleGetChains).Methods("GET")
	r.HandleFunc("/api/v1/oracles", s.handleGetOracles).Methods("GET")
	r.HandleFunc("/api/v1/deposits/{account}", s.handleGetDeposit).Methods("GET")
	r.HandleFunc("/api/v1/teleports/{id}", s.handleGetTeleport).Methods("GET")
	r.HandleFunc("/api/v1/receipts/{ref}", s.handleGetReceipt).Methods("GET")

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.handleWS)
	}

	// Administrative surface. The JWT proves the operator; the Fabric
	// identity behind the gateway must still carry the admin MSP.
	admin := r.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(func(next http.Handler) http.Handler {
		return common.AuthMiddleware(s.jwtSecret, next)
	})
	admin.HandleFunc("/oracles", common.RequireRole("admin", s.handleRegisterOracle)).Methods("POST")
	admin.HandleFunc("/oracles/{account}", common.RequireRole("admin", s.handleUnregisterOracle)).Methods("DELETE")
	admin.HandleFunc("/fees", common.RequireRole("admin", s.handleSetFee)).Methods("PUT")
	admin.HandleFunc("/min-amount", common.RequireRole("admin", s.handleSetMinAmount)).Methods("PUT")
	admin.HandleFunc("/threshold", common.RequireRole("admin", s.handleSetThreshold)).Methods("PUT")
	admin.HandleFunc("/freeze", common.RequireRole("admin", s.handleSetFreeze)).Methods("PUT")
	admin.HandleFunc("/chains", common.RequireRole("admin", s.handleAddChain)).Methods("POST")
	admin.HandleFunc("/chains/{id}", common.RequireRole("admin", s.handleRemoveChain)).Methods("DELETE")
	admin.HandleFunc("/payout", common.RequireRole("admin", s.handlePayOracles)).Methods("POST")
	admin.HandleFunc("/cleanup/teleports", common.RequireRole("admin", s.handleDeleteTeleports)).Methods("POST")
	admin.HandleFunc("/cleanup/receipts", common.RequireRole("admin", s.handleDeleteReceipts)).Methods("POST")

	return r
}

// --- auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}

	var passwordHash, role string
	err := s.db.QueryRow(
		"SELECT password_hash, role FROM operators WHERE username = $1", req.Username,
	).Scan(&passwordHash, &role)
	if err != nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", "")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)) != nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", "")
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  req.Username,
		"role": role,
		"exp":  time.Now().Add(8 * time.Hour).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to issue token", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]string{"token": signed})
}

// --- reads ---

// writeLedgerJSON passes the chaincode's JSON response through untouched.
func writeLedgerJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) evaluate(w http.ResponseWriter, name string, args ...string) {
	payload, err := s.invoker.EvaluateTransaction(name, args...)
	if err != nil {
		writeChaincodeError(w, err)
		return
	}
	writeLedgerJSON(w, payload)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.evaluate(w, "GetStats")
}

func (s *Server) handleGetChains(w http.ResponseWriter, r *http.Request) {
	s.evaluate(w, "GetChains")
}

func (s *Server) handleGetOracles(w http.ResponseWriter, r *http.Request) {
	s.evaluate(w, "GetOracles")
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	s.evaluate(w, "GetDeposit", mux.Vars(r)["account"])
}

func (s *Server) handleGetTeleport(w http.ResponseWriter, r *http.Request) {
	if _, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "teleport id must be a number", "")
		return
	}
	s.evaluate(w, "GetTeleport", mux.Vars(r)["id"])
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	s.evaluate(w, "GetReceipt", mux.Vars(r)["ref"])
}

// --- admin ---

func (s *Server) submit(w http.ResponseWriter, name string, args ...string) {
	payload, err := s.invoker.SubmitTransaction(name, args...)
	if err != nil {
		writeChaincodeError(w, err)
		return
	}
	if len(payload) == 0 {
		api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "committed"})
		return
	}
	writeLedgerJSON(w, payload)
}

type oracleRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleRegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "account is required", "")
		return
	}
	s.submit(w, "RegisterOracle", req.Account)
}

func (s *Server) handleUnregisterOracle(w http.ResponseWriter, r *http.Request) {
	s.submit(w, "UnregisterOracle", mux.Vars(r)["account"])
}

type feeRequest struct {
	FixedFee       uint64 `json:"fixed_fee"`
	VariableFeeBps uint64 `json:"variable_fee_bps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}
	s.submit(w, "SetFee",
		strconv.FormatUint(req.FixedFee, 10),
		strconv.FormatUint(req.VariableFeeBps, 10))
}

func (s *Server) handleSetMinAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinAmount uint64 `json:"min_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}
	s.submit(w, "SetMinAmount", strconv.FormatUint(req.MinAmount, 10))
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold uint32 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}
	s.submit(w, "SetThreshold", strconv.FormatUint(uint64(req.Threshold), 10))
}

type freezeRequest struct {
	Category string `json:"category"`
	Frozen   bool   `json:"frozen"`
}

func (s *Server) handleSetFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "category is required", "")
		return
	}
	s.submit(w, "SetFreeze", req.Category, strconv.FormatBool(req.Frozen))
}

type chainRequest struct {
	ChainID       uint32 `json:"chain_id"`
	Name          string `json:"name"`
	NetID         string `json:"net_id"`
	BridgeAddress string `json:"bridge_address"`
	TokenAddress  string `json:"token_address"`
}

func (s *Server) handleAddChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "chain name is required", "")
		return
	}
	s.submit(w, "AddChain",
		strconv.FormatUint(uint64(req.ChainID), 10),
		req.Name, req.NetID, req.BridgeAddress, req.TokenAddress)
}

func (s *Server) handleRemoveChain(w http.ResponseWriter, r *http.Request) {
	if _, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "chain id must be a number", "")
		return
	}
	s.submit(w, "RemoveChain", mux.Vars(r)["id"])
}

func (s *Server) handlePayOracles(w http.ResponseWriter, r *http.Request) {
	s.submit(w, "PayOracles")
}

func (s *Server) handleDeleteTeleports(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BelowID uint64 `json:"below_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}
	s.submit(w, "DeleteTeleports", strconv.FormatUint(req.BelowID, 10))
}

func (s *Server) handleDeleteReceipts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Before int64 `json:"before"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", "")
		return
	}
	s.submit(w, "DeleteReceipts", strconv.FormatInt(req.Before, 10))
}

// writeChaincodeError maps ledger error text onto HTTP statuses so clients
// can distinguish not-found from rejection.
func writeChaincodeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", msg, "")
	case strings.Contains(msg, "unauthorized"):
		api.WriteError(w, http.StatusForbidden, "FORBIDDEN", msg, "")
	case strings.Contains(msg, "already"):
		api.WriteError(w, http.StatusConflict, "CONFLICT", msg, "")
	default:
		api.WriteError(w, http.StatusUnprocessableEntity, "CHAINCODE_ERROR", msg, "")
	}
}
