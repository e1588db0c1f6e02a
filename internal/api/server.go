// Package api serves the voting engine over HTTP. Callers identify
// themselves with the X-Caller header; authentication is left to a proxy in
// front of the server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// CallerHeader carries the hex address of the caller.
const CallerHeader = "X-Caller"

const (
	maxBodySize       = 1 << 20
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	mux    *http.ServeMux
	engine *voting.Engine
	logger zerolog.Logger
	addr   string
}

func New(engine *voting.Engine, logger zerolog.Logger, addr string) *Server {
	if addr == "" {
		addr = "127.0.0.1:8545"
	}
	s := &Server{
		mux:    http.NewServeMux(),
		engine: engine,
		logger: logger,
		addr:   addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("http server starting")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/instances", s.handleStart)
	s.mux.HandleFunc("POST /v1/instances/{id}/votes", s.handleVote)
	s.mux.HandleFunc("POST /v1/instances/{id}/implement", s.handleImplement)
	s.mux.HandleFunc("GET /v1/instances/{id}", s.handleGetInstance)
	s.mux.HandleFunc("GET /v1/instances/{id}/result", s.handleGetResult)
	s.mux.HandleFunc("GET /v1/index", s.handleGetIndex)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.engine.Start(r.Context(), caller, req.Strategy, req.Params, req.Payload)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartResponse{ID: id})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := s.engine.Vote(r.Context(), caller, id, req.Choice)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VoteResponse{ID: id, Status: status})
}

func (s *Server) handleImplement(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ImplementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := s.engine.Implement(r.Context(), caller, id, req.Payload)
	if receipt == nil {
		s.writeEngineError(w, err)
		return
	}
	if err != nil {
		// the call went out; only recording it failed
		s.logger.Err(err).Uint64("instance", id).Msg("implement completed with store error")
	}
	writeJSON(w, http.StatusOK, ImplementResponse{
		ID:     id,
		Status: receipt.Status,
		Return: receipt.Return,
		Reason: receipt.Reason,
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := s.engine.Instance(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse(inst))
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Result(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{ID: id, Result: result})
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{Index: s.engine.CurrentIndex(r.Context())})
}

func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusUnauthorized, "invalid_caller",
			fmt.Sprintf("%s header must hold a hex address", CallerHeader))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "instance id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var statusErr *voting.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Status.Phase == voting.Inactive:
		writeError(w, http.StatusNotFound, "instance_not_found", err.Error())
	case errors.Is(err, voting.ErrStatusMismatch):
		writeError(w, http.StatusConflict, "status_mismatch", err.Error())
	case errors.Is(err, voting.ErrDuplicateVote):
		writeError(w, http.StatusConflict, "duplicate_vote", err.Error())
	case errors.Is(err, voting.ErrReentrant):
		writeError(w, http.StatusConflict, "reentrant_call", err.Error())
	case errors.Is(err, voting.ErrUnknownStrategy):
		writeError(w, http.StatusNotFound, "unknown_strategy", err.Error())
	case errors.Is(err, voting.ErrMalformedParams),
		errors.Is(err, voting.ErrPayloadTooShort),
		errors.Is(err, voting.ErrDuplicateContestant),
		errors.Is(err, voting.ErrInvalidRounds),
		errors.Is(err, voting.ErrOffsetOutOfRange),
		errors.Is(err, voting.ErrDurationTooShort),
		errors.Is(err, voting.ErrUnknownWeightSource),
		errors.Is(err, voting.ErrInvalidChoice):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, voting.ErrInvalidPayload):
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
	case errors.Is(err, voting.ErrCallFailed), errors.Is(err, voting.ErrExpectedReturn):
		writeError(w, http.StatusBadGateway, "call_failed", err.Error())
	default:
		s.logger.Err(err).Msg("engine error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
