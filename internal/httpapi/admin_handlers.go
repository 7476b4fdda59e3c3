package httpapi

import (
	"net/http"

	"userboard.io/internal/auth"
)

type decisionRequest struct {
	Reason string `json:"reason"`
}

// handleGetUser serves a user to themselves or to an admin.
func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	principal, _ := auth.PrincipalFromContext(r.Context())
	if principal.UserID != id && !principal.HasRole(auth.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	user, err := a.onboarding.Get(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	users, err := a.onboarding.Pending(r.Context())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 0, 0, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := parsePositiveInt(q.Get("size"), auth.DefaultPageSize, 1, auth.MaxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid size")
		return
	}
	out, err := a.onboarding.List(r.Context(), auth.Page{Number: page, Size: size})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, true)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, false)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	var req decisionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")

	var (
		user auth.UserView
		err  error
	)
	if approve {
		user, err = a.onboarding.Approve(r.Context(), id, actorID, req.Reason)
	} else {
		user, err = a.onboarding.Reject(r.Context(), id, actorID, req.Reason)
	}
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.onboarding.History(r.Context(), r.PathValue("id"))
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*auth.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	counts, err := a.onboarding.Statistics(r.Context())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  counts.Pending,
		"active":   counts.Active,
		"rejected": counts.Rejected,
		"total":    counts.Total(),
	})
}
