package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports process, database and cache health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "ok"
	if err := s.registryDB.HealthCheck(ctx); err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	hits, misses := s.cache.Stats()

	payload := map[string]interface{}{
		"status":         status,
		"uptime_seconds": int(time.Since(s.startupTime).Seconds()),
		"run_active":     s.running.Load(),
		"registry_db":    dbStatus,
		"cache": map[string]int64{
			"hits":   hits,
			"misses": misses,
		},
		"goroutines": runtime.NumGoroutine(),
	}

	// System stats are informational; failures do not degrade health
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}

	writeJSON(w, http.StatusOK, payload)
}

// handleRun launches one evolution run in the background. Overlapping runs
// are refused; generations are never overlapped either, so one run at a
// time is the only safe mode.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusServiceUnavailable, "no run function configured")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	go func() {
		defer s.running.Store(false)
		if err := s.run(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("evolution run failed")
			return
		}
		s.log.Info().Msg("evolution run finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleTop returns the leaderboard.
func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	minTests := queryInt(r, "min_tests", 0)
	market := r.URL.Query().Get("market")

	entries, err := s.repo.Top(n, minTests, market)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleReadiness runs a fresh gate assessment on the genome's current
// version.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	genomeID := chi.URLParam(r, "genomeID")

	version, err := s.repo.CurrentVersion(genomeID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	report, err := s.gate.Assess(r.Context(), genomeID, version.ID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleLineage returns the version chain of a genome, newest first: the
// repository walks parent links from the current version back to the root.
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	genomeID := chi.URLParam(r, "genomeID")

	versions, err := s.repo.Lineage(genomeID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
