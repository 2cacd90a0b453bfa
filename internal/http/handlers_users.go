package httpx

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	apperrors "github.com/nwatch/neighborwatch/internal/errors"
	"github.com/nwatch/neighborwatch/internal/service"
)

// UserHandlers serves self-registration and the admin user-management API.
type UserHandlers struct {
	Svc    *service.UserService
	Nav    *service.NavigationService
	Pages  *Pages
	Logger *slog.Logger
}

func (h *UserHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type registerRequest struct {
	RequestedRole string `json:"requested_role"`
}

// Register creates the signed-in principal's record.
// POST /register (form or JSON: requested_role=resident|police).
func (h *UserHandlers) Register(w http.ResponseWriter, r *http.Request) {
	client, ok := NavigationClientFromContext(r.Context())
	if !ok {
		writeRedirect(w, r, navigation.LoginPath)
		return
	}
	principal, signedIn := client.Identity.CurrentPrincipal()
	if !signedIn {
		writeRedirect(w, r, navigation.LoginPath)
		return
	}

	var req registerRequest
	if isJSONBody(r) {
		if !DecodeJSON(w, r, &req) {
			return
		}
	} else {
		req.RequestedRole = r.FormValue("requested_role")
	}

	user, err := h.Svc.Register(r.Context(), principal, domainauth.Role(strings.ToLower(strings.TrimSpace(req.RequestedRole))))
	if err != nil {
		h.registerFailed(w, r, err)
		return
	}

	if refreshErr := h.Nav.Refresh(r.Context(), client.SessionID); refreshErr != nil {
		h.logger().WarnContext(r.Context(), "refresh after registration failed",
			"uid", user.UID, "error", refreshErr)
	}

	landing := user.Record().LandingPath()
	if !IsBrowserRequest(r) {
		WriteJSON(w, http.StatusCreated, map[string]any{"user": user, "redirect_to": landing})
		return
	}
	http.Redirect(w, r, landing, http.StatusSeeOther)
}

func (h *UserHandlers) registerFailed(w http.ResponseWriter, r *http.Request, err error) {
	if IsBrowserRequest(r) {
		if apperrors.IsConflict(err) {
			// Already registered: the gate sends the user to their dashboard.
			http.Redirect(w, r, navigation.LoginPath, http.StatusSeeOther)
			return
		}
		if h.Pages != nil {
			var appErr *apperrors.AppError
			msg := "registration failed"
			if errors.As(err, &appErr) && appErr.Code != apperrors.ErrCodeInternal {
				msg = appErr.Message
			}
			h.Pages.Render(w, r, PageData{Status: statusForCode(apperrors.GetCode(err)), Error: msg})
			return
		}
	}
	WriteAppError(w, err)
}

// List returns users, optionally filtered by role and approval.
// GET /admin/user-management/users?role=&approved=&limit=&offset=.
func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	users, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": users, "limit": opts.Limit, "offset": opts.Offset})
}

// Get returns one user.
// GET /admin/user-management/users/{uid}.
func (h *UserHandlers) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.Svc.Get(r.Context(), r.PathValue("uid"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

type approvalRequest struct {
	Approved *bool `json:"approved"`
}

// SetApproval approves or revokes a user.
// POST /admin/user-management/users/{uid}/approval {"approved": bool}.
func (h *UserHandlers) SetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Approved == nil {
		WriteAppError(w, apperrors.ValidationField("approved", "approved is required"))
		return
	}
	user, err := h.Svc.SetApproval(r.Context(), r.PathValue("uid"), *req.Approved)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

type roleRequest struct {
	Role string `json:"role"`
}

// SetRole changes a user's role.
// POST /admin/user-management/users/{uid}/role {"role": "resident|police|admin"}.
func (h *UserHandlers) SetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.Svc.SetRole(r.Context(), r.PathValue("uid"), domainauth.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

func parseListOptions(r *http.Request) (model.UsersListOptions, error) {
	q := r.URL.Query()
	var opts model.UsersListOptions

	if v := q.Get("role"); v != "" {
		role, ok := domainauth.ParseRole(v)
		if !ok {
			return opts, apperrors.ValidationField("role", "role must be one of resident, police, admin")
		}
		opts.Role = &role
	}
	if v := q.Get("approved"); v != "" {
		approved, err := strconv.ParseBool(v)
		if err != nil {
			return opts, apperrors.ValidationField("approved", "approved must be true or false")
		}
		opts.Approved = &approved
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperrors.ValidationField(p.name, p.name+" must be a non-negative integer")
		}
		*p.dst = n
	}
	opts.Normalize()
	return opts, nil
}

func isJSONBody(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
