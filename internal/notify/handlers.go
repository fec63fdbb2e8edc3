package notify

import (
	"net/http"

	"github.com/alleato/procore-api/internal/common"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Handler exposes the activity feed over HTTP.
type Handler struct {
	Store Store
}

// List returns the newest notifications, bounded by ?limit=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "notification feed not configured", nil)
		return
	}
	limit, _ := common.ParseLimitOffset(r, defaultLimit, maxLimit)
	items, err := h.Store.Recent(r.Context(), limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to read notifications", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}
