package app

import (
	"net/http"

	"agora/api/internal/rbac"
	"agora/api/internal/upload"
)

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	users, err := s.service.ListPending(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	users, err := s.service.ListMembers(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	result, err := s.service.Approve(r.Context(), p, r.PathValue("id"))
	s.writeAdminResult(w, r, result, err, "User approved", "User is already approved")
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	if err := s.service.Reject(r.Context(), p, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Registration rejected", nil)
}

func (s *HTTPServer) handleGrantAdmin(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	result, err := s.service.GrantAdmin(r.Context(), p, r.PathValue("id"))
	s.writeAdminResult(w, r, result, err, "Admin access granted", "User is already an admin")
}

func (s *HTTPServer) handleRevokeAdmin(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	result, err := s.service.RevokeAdmin(r.Context(), p, r.PathValue("id"))
	s.writeAdminResult(w, r, result, err, "Admin access revoked", "User is not an admin")
}

// writeAdminResult answers 200 either way; an unchanged user is a no-op,
// not a failure.
func (s *HTTPServer) writeAdminResult(w http.ResponseWriter, r *http.Request, result AdminResult, err error, changed, unchanged string) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	message := changed
	if !result.Changed {
		message = unchanged
	}
	writeMessage(w, http.StatusOK, message, map[string]any{
		"user":    result.User,
		"changed": result.Changed,
	})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	var in UpdateProfileInput
	if isMultipart(r) {
		file, err := parseMultipart(w, r, "profilePic", upload.ProfileLimit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer closeMultipart(r, file)
		if values, ok := r.MultipartForm.Value["displayName"]; ok && len(values) > 0 {
			in.DisplayName = &values[0]
		}
		if file != nil {
			in.Picture = file
		}
	} else {
		var body struct {
			DisplayName *string `json:"displayName"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		in.DisplayName = body.DisplayName
	}

	user, err := s.service.UpdateProfile(r.Context(), p, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUserMessages(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	msgs, err := s.service.UserMessages(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
