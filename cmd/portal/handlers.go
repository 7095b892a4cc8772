package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/internal/rate"
	"github.com/MrEthical07/fileGate/metrics/export/prometheus"
	"github.com/MrEthical07/fileGate/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	engine   *fileGate.Engine
	sessions *sessionStore
	logger   *slog.Logger
	baseURL  string
	checks   map[string]pinger
	// limiter is optional; nil leaves the public forms unlimited.
	limiter *rate.Limiter
}

// routes builds the portal mux. The client metadata middleware wraps every
// route so the engine sees the caller's IP and user agent.
func (s *server) routes(trusted []string) http.Handler {
	mux := http.NewServeMux()

	authed := middleware.Guard(s.sessions)
	customer := middleware.RequireCustomer(s.sessions)
	admin := middleware.RequireAdmin(s.sessions)
	public := func(h http.HandlerFunc) http.Handler {
		if s.limiter == nil {
			return h
		}
		return limitByIP(s.limiter, s.logger)(h)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", prometheus.New(s.engine))

	// -------- sign-in --------
	mux.Handle("POST /login", public(s.handleLogin))
	mux.Handle("POST /login/mfa", public(s.handleLoginMFA))
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.Handle("POST /activate/{token}", public(s.handleActivate))
	mux.Handle("POST /forgot-password", public(s.handleForgotPassword))
	mux.Handle("POST /reset-password/{token}", public(s.handleResetPassword))

	// -------- own account --------
	mux.Handle("GET /account", authed(http.HandlerFunc(s.handleAccount)))
	mux.Handle("POST /account/password", authed(http.HandlerFunc(s.handleChangePassword)))
	mux.Handle("POST /account/terms", customer(http.HandlerFunc(s.handleAcceptTerms)))
	mux.Handle("POST /account/mfa/enrollment", authed(http.HandlerFunc(s.handleBeginMFA)))
	mux.Handle("POST /account/mfa/enrollment/confirm", authed(http.HandlerFunc(s.handleConfirmMFA)))
	mux.Handle("DELETE /account/mfa/enrollment", authed(http.HandlerFunc(s.handleCancelMFA)))
	mux.Handle("DELETE /account/mfa", authed(http.HandlerFunc(s.handleDisableMFA)))

	// -------- downloads --------
	mux.Handle("POST /files/{id}/download", customer(http.HandlerFunc(s.handleAuthorizeDownload)))
	mux.HandleFunc("GET /download/{token}", s.handleDownload)

	// -------- admin --------
	mux.Handle("POST /admin/customers", admin(http.HandlerFunc(s.handleCreateCustomer)))
	mux.Handle("POST /admin/files", admin(http.HandlerFunc(s.handleRegisterFile)))
	mux.Handle("POST /admin/files/{id}/assignments", admin(http.HandlerFunc(s.handleAssignFiles)))
	mux.Handle("POST /admin/assignments", admin(http.HandlerFunc(s.handleAssignFile)))
	mux.Handle("DELETE /admin/assignments/{id}", admin(http.HandlerFunc(s.handleRevokeAssignment)))
	mux.Handle("POST /admin/accounts/{id}/unlock", admin(http.HandlerFunc(s.handleUnlock)))
	mux.Handle("PUT /admin/accounts/{id}/active", admin(http.HandlerFunc(s.handleSetActive)))
	mux.Handle("GET /admin/login-attempts", admin(http.HandlerFunc(s.handleLoginAttempts)))
	mux.Handle("GET /admin/downloads", admin(http.HandlerFunc(s.handleDownloadHistory)))

	return middleware.ClientMetadata(parseProxies(trusted, s.logger))(mux)
}

/*
====================================
SIGN-IN
====================================
*/

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := s.engine.Login(r.Context(), body.Handle, body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishLogin(w, r, res)
}

func (s *server) handleLoginMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := s.engine.ConfirmLoginMFA(r.Context(), body.ChallengeID, body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishLogin(w, r, res)
}

func (s *server) finishLogin(w http.ResponseWriter, r *http.Request, res *fileGate.LoginResult) {
	if res.MFARequired {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"mfa_required": true,
			"challenge_id": res.ChallengeID,
		})
		return
	}

	if _, err := s.sessions.Create(r.Context(), w, middleware.Principal{
		AccountID: res.AccountID,
		Handle:    res.Handle,
		Role:      res.Role,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": res.AccountID,
		"handle":     res.Handle,
		"role":       res.Role,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(w, r); err != nil {
		s.logger.Warn("session destroy failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ActivateAccount(r.Context(), r.PathValue("token"), body.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Same answer whether or not the address is known.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If that address belongs to an account, a reset link is on its way.",
	})
}

func (s *server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ResetPassword(r.Context(), r.PathValue("token"), body.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
OWN ACCOUNT
====================================
*/

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	acc, err := s.engine.GetAccount(r.Context(), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":     acc.ID,
		"handle":         acc.Handle,
		"email":          acc.Email,
		"role":           acc.Role,
		"company_name":   acc.CompanyName,
		"mfa_enabled":    acc.MFAEnabled,
		"terms_accepted": acc.TermsAccepted,
		"last_login_at":  acc.LastLoginAt,
	})
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), p.AccountID, body.Current, body.New); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAcceptTerms(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.AcceptTerms(r.Context(), p.AccountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleBeginMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	enrollment, err := s.engine.BeginMFAEnrollment(r.Context(), enrollmentKey(r), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           enrollment.Secret,
		"provisioning_uri": enrollment.ProvisioningURI,
		"expires_at":       enrollment.ExpiresAt,
	})
}

func (s *server) handleConfirmMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.ConfirmMFAEnrollment(r.Context(), enrollmentKey(r), p.AccountID, body.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCancelMFA(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelMFAEnrollment(r.Context(), enrollmentKey(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDisableMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.DisableMFA(r.Context(), p.AccountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
DOWNLOADS
====================================
*/

func (s *server) handleAuthorizeDownload(w http.ResponseWriter, r *http.Request) {
	fileID, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	tok, err := s.engine.AuthorizeDownload(r.Context(), p.AccountID, fileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"download_url": strings.TrimRight(s.baseURL, "/") + "/download/" + tok,
	})
}

// handleDownload needs no session: the token is the credential.
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := s.engine.OpenDownload(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer dl.Content.Close()

	contentType := dl.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.File.OriginalName}))
	w.Header().Set("Cache-Control", "no-store")
	if dl.File.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.File.SizeBytes, 10))
	}
	if _, err := io.Copy(w, dl.Content); err != nil {
		s.logger.Warn("download interrupted",
			slog.Int64("file_id", dl.FileID),
			slog.Int64("account_id", dl.AccountID),
			slog.Any("error", err),
		)
	}
}

/*
====================================
ADMIN
====================================
*/

func (s *server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle      string `json:"handle"`
		Email       string `json:"email"`
		CompanyName string `json:"company_name"`
		ContactInfo string `json:"contact_info"`
	}
	if !decode(w, r, &body) {
		return
	}
	created, err := s.engine.CreateCustomer(r.Context(), fileGate.NewCustomer{
		Handle:      body.Handle,
		Email:       body.Email,
		CompanyName: body.CompanyName,
		ContactInfo: body.ContactInfo,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"account_id":         created.Account.ID,
		"handle":             created.Account.Handle,
		"temporary_password": created.TemporaryPassword,
	})
}

func (s *server) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OriginalName string `json:"original_name"`
		StoragePath  string `json:"storage_path"`
		SizeBytes    int64  `json:"size_bytes"`
		ContentType  string `json:"content_type"`
		Description  string `json:"description"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	f, err := s.engine.RegisterFile(r.Context(), fileGate.File{
		OriginalName: body.OriginalName,
		StoragePath:  body.StoragePath,
		SizeBytes:    body.SizeBytes,
		ContentType:  body.ContentType,
		Description:  body.Description,
		UploadedBy:   p.AccountID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file_id": f.ID})
}

func (s *server) handleAssignFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID int64      `json:"account_id"`
		FileID    int64      `json:"file_id"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	a, err := s.engine.AssignFile(r.Context(), fileGate.AssignmentRequest{
		AccountID: body.AccountID,
		FileID:    body.FileID,
		GrantorID: p.AccountID,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assignment_id": a.ID})
}

func (s *server) handleAssignFiles(w http.ResponseWriter, r *http.Request) {
	fileID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		AccountIDs []int64    `json:"account_ids"`
		ExpiresAt  *time.Time `json:"expires_at"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	res, err := s.engine.AssignFiles(r.Context(), fileID, p.AccountID, body.AccountIDs, body.ExpiresAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created := make([]int64, 0, len(res.Created))
	for _, a := range res.Created {
		created = append(created, a.AccountID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assigned": created,
		"skipped":  res.Skipped,
	})
}

func (s *server) handleRevokeAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.engine.RevokeAssignment(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.engine.UnlockAccount(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.SetAccountActive(r.Context(), id, body.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLoginAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := fileGate.LoginAttemptQuery{
		Handle:        q.Get("handle"),
		SourceAddress: q.Get("ip"),
		Limit:         queryInt(q.Get("limit"), 100),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
			return
		}
		query.Since = t
	}
	attempts, err := s.engine.LoginAttempts(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *server) handleDownloadHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := s.engine.DownloadHistory(r.Context(), fileGate.DownloadRecordQuery{
		AccountID: int64(queryInt(q.Get("account_id"), 0)),
		FileID:    int64(queryInt(q.Get("file_id"), 0)),
		Limit:     queryInt(q.Get("limit"), 100),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			status[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

/*
====================================
HELPERS
====================================
*/

// writeError maps engine errors onto status codes. Login failures carry the
// user-facing message; everything unexpected is logged and hidden.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var loginErr *fileGate.LoginError
	switch {
	case errors.As(err, &loginErr):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": loginErr.Message()})
	case errors.Is(err, fileGate.ErrTokenInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "This link is invalid or has expired."})
	case errors.Is(err, fileGate.ErrAuthorizationDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "You do not have access to this file."})
	case errors.Is(err, fileGate.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, fileGate.ErrAccountExists),
		errors.Is(err, fileGate.ErrAssignmentExists),
		errors.Is(err, fileGate.ErrAlreadyActivated),
		errors.Is(err, fileGate.ErrMFAAlreadyEnabled):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, fileGate.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
