package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Steward/internal/graduation"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

type AdminHandler struct {
	store store.Store
}

func NewAdminHandler(s store.Store) *AdminHandler {
	return &AdminHandler{store: s}
}

// Rules handles GET /api/v1/users/{user_id}/rules. Deactivated rules are
// included unless ?active=true.
func (h *AdminHandler) Rules(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	rules, err := h.store.ListRules(r.Context(), userID, activeOnly)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rules == nil {
		rules = []*store.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

type CategoryAutonomy struct {
	*graduation.Status
	AutonomyLevel string `json:"autonomy_level"`
}

type AutonomyView struct {
	UserID            string             `json:"user_id"`
	CategoryOverrides map[string]string  `json:"category_overrides"`
	Categories        []CategoryAutonomy `json:"categories"`
}

// Autonomy handles GET /api/v1/users/{user_id}/autonomy.
func (h *AdminHandler) Autonomy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	settings, err := h.store.GetAutonomySettings(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	tracking, err := h.store.ListGraduations(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	view := AutonomyView{
		UserID:            userID,
		CategoryOverrides: map[string]string{},
		Categories:        []CategoryAutonomy{},
	}
	if settings != nil && settings.CategoryOverrides != nil {
		view.CategoryOverrides = settings.CategoryOverrides
	}
	for _, g := range tracking {
		view.Categories = append(view.Categories, CategoryAutonomy{
			Status:        graduation.StatusOf(g),
			AutonomyLevel: graduation.LevelLabel(g.CurrentLevel),
		})
	}
	writeJSON(w, http.StatusOK, view)
}
