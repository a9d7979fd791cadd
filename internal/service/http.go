package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type trackRequest struct {
	Chain  string `json:"chain"`
	TxID   string `json:"txid"`
	Owner  string `json:"owner"`
	Target uint64 `json:"target,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind"`
	Chain string `json:"chain,omitempty"`
}

// Register mounts the JSON API on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/chains", s.handleChains)
	mux.HandleFunc("GET /v1/chains/{chain}/addresses/{address}/balance", s.handleBalance)
	mux.HandleFunc("GET /v1/chains/{chain}/transactions/{txid}", s.handleTransaction)
	mux.HandleFunc("POST /v1/tracking", s.handleTrack)
	mux.HandleFunc("GET /v1/tracking/{id}", s.handleGetTracking)
}

func (s *Service) handleChains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chains": s.Chains()})
}

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	chain, address := r.PathValue("chain"), r.PathValue("address")

	get := s.GetBalance
	switch r.URL.Query().Get("asset") {
	case "", "native":
	case "token":
		get = s.GetTokenBalance
	default:
		s.writeError(w, &Error{Chain: chain, Op: "balance", Kind: KindInvalid, Err: errors.New("asset must be native or token")})
		return
	}

	bal, err := get(r.Context(), chain, address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Service) handleTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.GetTransaction(r.Context(), r.PathValue("chain"), r.PathValue("txid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Service) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, &Error{Op: "track", Kind: KindInvalid, Err: errors.New("invalid json payload")})
		return
	}
	if req.Owner == "" {
		s.writeError(w, &Error{Chain: req.Chain, Op: "track", Kind: KindInvalid, Err: errors.New("owner is required")})
		return
	}

	watched, err := s.Track(r.Context(), req.Owner, req.Chain, req.TxID, req.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, watched)
}

func (s *Service) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	watched, err := s.GetTracking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, watched)
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: KindOf(err)}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		resp.Chain = svcErr.Chain
	}

	status := resp.Kind.HTTPStatus()
	ev := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("chain", resp.Chain).Str("kind", string(resp.Kind)).Msg("Request failed")

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AccessLog logs one line per request.
func AccessLog(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
