package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hnrobert/trydo/internal/auth"
	"github.com/hnrobert/trydo/internal/dialog"
	"github.com/hnrobert/trydo/internal/forms"
	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/strength"
)

const (
	msgSignUpDone = "Check your email for the confirmation link!"
	msgResetDone  = "Check your email for the password reset link!"
)

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (a *App) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "signin", &ViewData{})
}

func (a *App) handleSignIn(w http.ResponseWriter, r *http.Request) {
	m := mountFrom(r)
	if err := r.ParseForm(); err != nil {
		a.renderPage(w, "signin", &ViewData{Flash: forms.MsgFillAllFields, FlashKind: "err"})
		return
	}
	f, err := forms.ParseSignIn(r.PostForm)
	if err != nil {
		a.renderPage(w, "signin", &ViewData{FormEmail: f.Email, Flash: forms.Message(err), FlashKind: "err"})
		return
	}
	res := a.runAction(m, actionKey("signin", f.Email, f.Password), func() auth.Result {
		return m.auth.SignIn(r.Context(), f.Email, f.Password)
	})
	if res.Err != nil {
		a.renderPage(w, "signin", &ViewData{FormEmail: f.Email, Flash: auth.HumanError(res.Err), FlashKind: "err"})
		return
	}
	logger.Info("User %s signed in from %s", f.Email, remoteIP(r))
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (a *App) handleSignUpPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "signup", &ViewData{})
}

func (a *App) handleSignUp(w http.ResponseWriter, r *http.Request) {
	m := mountFrom(r)
	if err := r.ParseForm(); err != nil {
		a.renderPage(w, "signup", &ViewData{Flash: forms.MsgFillAllFields, FlashKind: "err"})
		return
	}
	f, err := forms.ParseSignUp(r.PostForm)
	if err != nil {
		a.renderPage(w, "signup", &ViewData{FormEmail: f.Email, Flash: forms.Message(err), FlashKind: "err"})
		return
	}
	res := a.runAction(m, actionKey("signup", f.Email, f.Password), func() auth.Result {
		return m.auth.SignUp(r.Context(), f.Email, f.Password)
	})
	if res.Err != nil {
		a.renderPage(w, "signup", &ViewData{FormEmail: f.Email, Flash: auth.HumanError(res.Err), FlashKind: "err"})
		return
	}
	logger.Info("User %s signed up from %s", f.Email, remoteIP(r))
	a.renderPage(w, "signup", &ViewData{Flash: msgSignUpDone, FlashKind: "ok"})
}

func (a *App) handleResetPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "reset", &ViewData{})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	m := mountFrom(r)
	if err := r.ParseForm(); err != nil {
		a.renderPage(w, "reset", &ViewData{Flash: forms.MsgEmailRequired, FlashKind: "err"})
		return
	}
	f, err := forms.ParseReset(r.PostForm)
	if err != nil {
		a.renderPage(w, "reset", &ViewData{Flash: forms.Message(err), FlashKind: "err"})
		return
	}
	res := a.runAction(m, actionKey("reset", f.Email), func() auth.Result {
		return m.auth.ResetPassword(r.Context(), f.Email)
	})
	if res.Err != nil {
		a.renderPage(w, "reset", &ViewData{FormEmail: f.Email, Flash: auth.HumanError(res.Err), FlashKind: "err"})
		return
	}
	a.renderPage(w, "reset", &ViewData{Flash: msgResetDone, FlashKind: "ok"})
}

func (a *App) handleAppHome(w http.ResponseWriter, r *http.Request) {
	m := mountFrom(r)
	a.renderPage(w, "app", a.homeView(m, userEmail(m)))
}

// userEmail is "" if a push signed the user out mid-request.
func userEmail(m *mount) string {
	if u := m.auth.State().User; u != nil {
		return u.Email
	}
	return ""
}

func (a *App) homeView(m *mount, email string) *ViewData {
	return &ViewData{
		Authed:     true,
		Email:      email,
		NoticeHTML: a.notice,
		Dialog:     m.dialog.State(),
	}
}

func (a *App) handleSignOutRequest(w http.ResponseWriter, r *http.Request) {
	mountFrom(r).dialog.Request()
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (a *App) handleSignOutCancel(w http.ResponseWriter, r *http.Request) {
	// Cancel is refused mid-confirm; the page then still shows the dialog.
	_ = mountFrom(r).dialog.Cancel()
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (a *App) handleSignOutConfirm(w http.ResponseWriter, r *http.Request) {
	m := mountFrom(r)
	email := userEmail(m)

	_, err := a.browsers.do(m.id, "signout", func() (any, error) {
		return nil, m.dialog.Confirm(r.Context(), func(ctx context.Context) error {
			return m.auth.SignOut(ctx).Err
		})
	})
	switch {
	case err == nil:
		logger.Info("User %s signed out from %s", email, remoteIP(r))
		http.Redirect(w, r, "/auth/signin", http.StatusSeeOther)
		return
	case errors.Is(err, dialog.ErrNotOpen), errors.Is(err, dialog.ErrBusy):
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}

	// Local state is already cleared; show the failure on the page the user
	// was on instead of navigating.
	msg := auth.SignOutMessage(err)
	if errors.Is(err, dialog.ErrUnexpected) {
		msg = auth.MsgUnexpected
	}
	data := a.homeView(m, email)
	data.Flash, data.FlashKind = msg, "err"
	a.renderPage(w, "app", data)
}

// actionKey identifies a submission by action and form values, so only
// identical submissions are collapsed.
func actionKey(action string, values ...string) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return action + ":" + hex.EncodeToString(h.Sum(nil))
}

// runAction collapses duplicate submissions from one browser.
func (a *App) runAction(m *mount, key string, fn func() auth.Result) auth.Result {
	v, _ := a.browsers.do(m.id, key, func() (any, error) {
		return fn(), nil
	})
	res, _ := v.(auth.Result)
	return res
}

type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	Loading       bool       `json:"loading"`
	User          *userView  `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *App) handleSessionAPI(w http.ResponseWriter, r *http.Request) {
	st := mountFrom(r).auth.State()
	out := sessionView{Authenticated: st.Authenticated(), Loading: st.Loading}
	if st.User != nil {
		out.User = &userView{ID: st.User.ID, Email: st.User.Email}
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		exp := st.Session.ExpiresAt
		out.ExpiresAt = &exp
	}
	if st.Err != nil {
		out.Error = auth.HumanError(st.Err)
	}
	writeJSON(w, http.StatusOK, out)
}

type strengthRequest struct {
	Password string `json:"password"`
}

type strengthResponse struct {
	Score   int             `json:"score"`
	Label   string          `json:"label"`
	Percent int             `json:"percent"`
	Tone    string          `json:"tone"`
	Checks  strength.Checks `json:"checks"`
}

func (a *App) handleStrengthAPI(w http.ResponseWriter, r *http.Request) {
	var req strengthRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res := strength.Evaluate(req.Password)
	writeJSON(w, http.StatusOK, strengthResponse{
		Score:   res.Score,
		Label:   res.Label(),
		Percent: res.Percent(),
		Tone:    res.Tone(),
		Checks:  res.Checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write json: %v", err)
	}
}

func (a *App) renderPage(w http.ResponseWriter, page string, data *ViewData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	t := a.pages[page]
	if t == nil {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		logger.Error("renderPage template execution failed for %s: %v", page, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
