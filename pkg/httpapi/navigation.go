package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/afu9/control-center/pkg/afu9err"
)

// NavigationItem is one role-scoped UI menu entry. Navigation is an
// ambient admin surface, not one of the core subsystems, so
// it gets a minimal store colocated with the handler rather than its
// own package.
type NavigationItem struct {
	ID       int64  `json:"id"`
	Role     string `json:"role"`
	Href     string `json:"href"`
	Label    string `json:"label"`
	Position int    `json:"position"`
	Enabled  bool   `json:"enabled"`
}

func (s *Server) listNavigation(ctx context.Context, role string) ([]NavigationItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, role, href, label, position, enabled FROM navigation_items
		WHERE role = $1 OR role = '*' ORDER BY position ASC`, role)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []NavigationItem
	for rows.Next() {
		var it NavigationItem
		if err := rows.Scan(&it.ID, &it.Role, &it.Href, &it.Label, &it.Position, &it.Enabled); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// handleNavigationGet implements GET /api/admin/navigation/{role}.
func (s *Server) handleNavigationGet(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	if s.DB == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "database disabled", nil)
		return
	}
	items, err := s.listNavigation(r.Context(), role)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleNavigationPut implements PUT /api/admin/navigation/{role},
// replacing the full item set for that role in one transaction.
func (s *Server) handleNavigationPut(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	if s.DB == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "database disabled", nil)
		return
	}
	var req struct {
		Items []NavigationItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidInput, "malformed body", nil)
		return
	}

	tx, err := s.DB.BeginTx(r.Context(), nil)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(r.Context(), `DELETE FROM navigation_items WHERE role = $1`, role); err != nil {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}
	for _, it := range req.Items {
		if _, err := tx.ExecContext(r.Context(), `
			INSERT INTO navigation_items (role, href, label, position, enabled)
			VALUES ($1,$2,$3,$4,$5)`, role, it.Href, it.Label, it.Position, it.Enabled); err != nil {
			WriteError(w, r, http.StatusConflict, afu9err.CodeConflict, err.Error(), nil)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}

	items, err := s.listNavigation(r.Context(), role)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, afu9err.CodeInternal, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
