package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetReport is the fail-fast read path: a missing or non-completed
// artifact returns 404 with PrecomputeMissing rather than triggering
// on-demand computation.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	artifact, err := s.repo.ReadArtifact(r.Context(), symbol)
	if err != nil {
		if err == errs.ErrPrecomputeMissing || err == errs.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "precompute missing", "symbol": symbol})
			return
		}
		s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to read artifact")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing q parameter"})
		return
	}

	alias, err := s.repo.Resolve(r.Context(), q)
	if err != nil {
		if err == errs.ErrNotFound {
			writeJSON(w, http.StatusOK, []domain.SecurityAlias{})
			return
		}
		s.log.Error().Err(err).Str("query", q).Msg("search failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, []domain.SecurityAlias{*alias})
}

// handleRankings ranks the whole universe by one of a fixed set of
// comparative_features metrics, for the latest business date in that table;
// symbols with no value for the metric on that date are left out.
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	metric := chi.URLParam(r, "metric")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := s.repo.RankBy(r.Context(), metric, limit)
	if err != nil {
		if errors.Is(err, errs.ErrInvariantViolation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown metric", "metric": metric})
			return
		}
		s.log.Error().Err(err).Str("metric", metric).Msg("ranking query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	items, err := s.repo.ListWatchlist(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("list watchlist failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddWatchlistItem(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if err := s.repo.AddWatchlistItem(r.Context(), userID, symbol); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("symbol", symbol).Msg("add watchlist item failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlistItem(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if err := s.repo.RemoveWatchlistItem(r.Context(), userID, symbol); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("symbol", symbol).Msg("remove watchlist item failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRequestReport queues an on-demand recompute for one symbol,
// reusing the nightly worker pool rather than computing inline. The
// caller polls handleGetJob for completion.
func (s *Server) handleRequestReport(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	jobID, err := s.ctrl.RequestOnDemandReport(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol", "symbol": symbol})
			return
		}
		s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to queue on-demand report")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.repo.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if err == errs.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job", "job_id": jobID})
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("failed to read job status")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleRunStream streams the current run's progress over a websocket
// connection, polling the controller's in-memory state every second until
// the run finishes or the client disconnects.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case <-ticker.C:
			state := s.ctrl.CurrentRun()
			if state == nil || state.CorrelationID != runID {
				continue
			}
			if err := wsjson.Write(ctx, conn, state); err != nil {
				return
			}
			if state.Phase == "done" || state.Phase == "failed" {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
