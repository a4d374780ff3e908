package app

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/upload"
)

// multipart bodies may carry a little form data around the file itself
const (
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Registration successful. Your account is awaiting admin approval.", map[string]any{
		"user": user,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	user, err := s.service.Me(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, _ *rbac.Principal) {
	if err := s.service.Logout(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out", nil)
}

func (s *HTTPServer) handleListThreads(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	forumType, ok := s.forumType(w, r)
	if !ok {
		return
	}
	threads, err := s.service.ListThreads(r.Context(), p, forumType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *HTTPServer) handleCreateThread(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	forumType, ok := s.forumType(w, r)
	if !ok {
		return
	}

	var in CreateThreadInput
	if isMultipart(r) {
		file, err := parseMultipart(w, r, "image", upload.ContentLimit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer closeMultipart(r, file)
		in.Title = r.FormValue("title")
		in.Content = r.FormValue("content")
		if file != nil {
			in.Image = file
		}
	} else if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.service.CreateThread(r.Context(), p, forumType, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleThreadMessages(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	page, err := s.service.ThreadMessages(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handlePostMessage(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	var in PostMessageInput
	if isMultipart(r) {
		file, err := parseMultipart(w, r, "image", upload.ContentLimit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer closeMultipart(r, file)
		in.Content = r.FormValue("content")
		if parentID := r.FormValue("parentId"); parentID != "" {
			in.ParentID = &parentID
		}
		if file != nil {
			in.Image = file
		}
	} else if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	msg, err := s.service.PostMessage(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *HTTPServer) handleReact(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	var body struct {
		ActionType string `json:"actionType"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.service.React(r.Context(), p, r.PathValue("id"), body.ActionType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (s *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	if err := s.service.DeleteMessage(r.Context(), p, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Message deleted", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, p *rbac.Principal) {
	query := r.URL.Query()
	fuzzy, _ := strconv.ParseBool(query.Get("fuzzy"))
	results, err := s.service.Search(r.Context(), p, search.Query{
		Text:      query.Get("query"),
		Author:    query.Get("author"),
		StartDate: query.Get("startDate"),
		EndDate:   query.Get("endDate"),
		Fuzzy:     fuzzy,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *HTTPServer) forumType(w http.ResponseWriter, r *http.Request) (store.ForumType, bool) {
	forumType, err := store.ParseForumType(r.PathValue("forumType"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown forum")
		return "", false
	}
	return forumType, true
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}

// parseMultipart reads a multipart body of at most limit bytes of file plus
// form overhead and returns the named file, or nil when none was sent.
func parseMultipart(w http.ResponseWriter, r *http.Request, field string, limit int64) (multipart.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, upload.ErrTooLarge
		}
		return nil, badRequest("Invalid multipart body")
	}
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badRequest("Invalid multipart body")
	}
	return file, nil
}

func closeMultipart(r *http.Request, file io.Closer) {
	if file != nil {
		_ = file.Close()
	}
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
