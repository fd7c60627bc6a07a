package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/personasync/apiserver/internal/logger"
	"github.com/personasync/apiserver/internal/services"
)

// DashboardHandler serves the aggregate views of the dashboard.
type DashboardHandler struct {
	stats     *services.StatsService
	narration *services.NarrationService
	exports   *services.ExportService
	log       *logger.Logger
}

func NewDashboardHandler(stats *services.StatsService, narration *services.NarrationService, exports *services.ExportService, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		stats:     stats,
		narration: narration,
		exports:   exports,
		log:       log,
	}
}

// DashboardRouter registers dashboard routes on the given router.
func DashboardRouter(r chi.Router, h *DashboardHandler) {
	r.Get("/stats", h.Stats)
	r.Get("/summary", h.Summary)
	r.Post("/summary/audio", h.SummaryAudio)
	r.Post("/exports", h.Export)
}

type SummaryResponse struct {
	Text string `json:"text"`
}

type ExportResponse struct {
	Key string `json:"key"`
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Overview(r.Context())
	if err != nil {
		h.log.Error("compute stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	text, err := h.narration.Summary(r.Context())
	if err != nil {
		h.log.Error("build summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Text: text})
}

// SummaryAudio returns the spoken summary as audio.
func (h *DashboardHandler) SummaryAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := h.narration.Speak(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNarrationDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Warn("generate speech failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// Export writes a profile snapshot to object storage.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	key, err := h.exports.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrExportDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export profiles")
		return
	}
	writeJSON(w, http.StatusCreated, ExportResponse{Key: key})
}
