package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "accountId query parameter is required.")
		return
	}

	sources, err := s.db.CampaignSources(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loops.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "loops": sources})
}

func (s *Server) handleCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "accountId query parameter is required.")
		return
	}

	analytics, err := s.db.CampaignAnalytics(r.Context(), accountID, chi.URLParam(r, "loopID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load loop analytics.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analytics": analytics})
}
