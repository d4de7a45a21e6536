package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/answer-eval/internal/auth/middleware"
	"github.com/mind-engage/answer-eval/internal/logger"
	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/user"
)

type UserLister interface {
	List(ctx context.Context, role string) ([]user.User, error)
}

type UserAdmin interface {
	BulkUpsert(ctx context.Context, rows []user.Import) (inserted, updated int, err error)
	SetRole(ctx context.Context, idOrUsername, role string) (user.User, error)
	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
}

// GET /users?role=student
func ListUsersHandler(users UserLister, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := strings.TrimSpace(r.URL.Query().Get("role"))
		if role != "" && !user.ValidRole(role) {
			writeDetail(w, http.StatusUnprocessableEntity, []FieldError{{Field: "role", Message: "must be one of: student teacher admin"}})
			return
		}
		items, err := users.List(r.Context(), role)
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, Page[user.User]{Total: len(items), Items: items})
	}
}

// POST /users/bulk  roster upload: multipart file= (CSV or JSON) or a raw JSON array.
// Callers without users:set_role may only import students.
func BulkUpsertUsersHandler(users UserAdmin, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := readRoster(r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(rows) == 0 {
			respondJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}
		canSetRole := rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.PermUsersSetRole)
		for i := range rows {
			rows[i].ID = strings.TrimSpace(rows[i].ID)
			rows[i].Username = strings.TrimSpace(rows[i].Username)
			rows[i].Role = strings.ToLower(strings.TrimSpace(rows[i].Role))
			if rows[i].ID == "" || rows[i].Username == "" {
				writeDetail(w, http.StatusUnprocessableEntity, []FieldError{{Field: fmt.Sprintf("rows[%d]", i), Message: "id and username required"}})
				return
			}
			if !canSetRole && rows[i].Role != "" && rows[i].Role != user.RoleStudent {
				writeDetail(w, http.StatusForbidden, "only students may be imported")
				return
			}
		}
		ins, upd, err := users.BulkUpsert(r.Context(), rows)
		if errors.Is(err, user.ErrInvalidRole) || errors.Is(err, user.ErrPasswordRequired) {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

func readRoster(r *http.Request) ([]user.Import, error) {
	var rows []user.Import
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&rows); err != nil {
			return nil, errors.New("expected JSON array or multipart file")
		}
		return rows, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file required")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, 4<<20))
	if err != nil {
		return nil, err
	}
	// sniff CSV vs JSON by first non-space byte
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty file")
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, errors.New("bad json")
		}
		return rows, nil
	}
	rows, err = parseRosterCSV(strings.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("bad csv: %w", err)
	}
	return rows, nil
}

func parseRosterCSV(r io.Reader) ([]user.Import, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"id", "username"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	var rows []user.Import
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := user.Import{ID: rec[idx["id"]], Username: rec[idx["username"]]}
		if i, ok := idx["role"]; ok {
			row.Role = rec[i]
		}
		if i, ok := idx["password"]; ok {
			row.Password = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type setRoleReq struct {
	Role string `json:"role" validate:"required,oneof=student teacher admin"`
}

func (r *setRoleReq) normalize() { r.Role = strings.ToLower(strings.TrimSpace(r.Role)) }

// PATCH /users/{userID}  {"role": "teacher"}; userID may be an id or a username.
func SetUserRoleHandler(users UserAdmin, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setRoleReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		u, err := users.SetRole(r.Context(), chi.URLParam(r, "userID"), req.Role)
		if errors.Is(err, user.ErrLastAdmin) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, u)
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// POST /users/change-password
func ChangePasswordHandler(users UserAdmin, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err := users.ChangePassword(r.Context(), auth.SubjectFromContext(r.Context()), req.OldPassword, req.NewPassword)
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeDetail(w, http.StatusForbidden, "incorrect old password")
			return
		}
		if err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
