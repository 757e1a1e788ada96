package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "session_token"

	minPasswordLen = 8
	ctxUserKey     = "auth.user"
)

// Options carries the cookie/session settings from config.
type Options struct {
	SessionTTL   time.Duration
	CookieSecure bool
	Logger       *zap.Logger
}

type handler struct {
	repo *Repository
	opts Options
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func RegisterRoutes(r *gin.Engine, repo *Repository, opts Options) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{repo: repo, opts: opts}

	api := r.Group("/api/auth")
	api.POST("/bootstrap", h.bootstrap)
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)
	api.GET("/me", RequireLogin(repo), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})

	profile := r.Group("/api/profile", RequireLogin(repo))
	profile.PATCH("/nickname", h.setNickname)
	profile.POST("/password", h.changePassword)

	admin := r.Group("/api/admin", RequireAdmin(repo))
	admin.GET("/users", h.listUsers)
	admin.POST("/users", h.createUser)
	admin.POST("/users/:id/reset-password", h.resetPassword)
	admin.DELETE("/users/:id", h.deleteUser)
	admin.GET("/audit", h.listAudit)
}

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// bootstrap creates the initial admin; only allowed while no users exist.
func (h *handler) bootstrap(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	n, err := h.repo.CountUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "already initialized"})
		return
	}
	u, ok := h.newUser(c, req.Username, req.Password, RoleAdmin)
	if !ok {
		return
	}
	h.opts.Logger.Info("initial admin created", zap.Int64("user_id", u.ID))
	c.JSON(http.StatusCreated, u)
}

// newUser validates and creates a user, writing the error response itself.
func (h *handler) newUser(c *gin.Context, username, password, role string) (User, bool) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return User{}, false
	}
	if len(password) < minPasswordLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short (min 8)"})
		return User{}, false
	}
	if role != RoleAdmin && role != RolePlayer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return User{}, false
	}
	hash, err := hashPassword(password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
		return User{}, false
	}
	u, err := h.repo.CreateUser(c.Request.Context(), username, hash, role)
	if errors.Is(err, ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return User{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return User{}, false
	}
	return u, true
}

func (h *handler) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}
	u, err := h.repo.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil || !checkPassword(u.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	s, err := h.repo.CreateSession(c.Request.Context(), u.ID, h.opts.SessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session failed"})
		return
	}
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, s.Token, maxAge, "/", "", h.opts.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": u})
}

func (h *handler) logout(c *gin.Context) {
	tok, err := c.Cookie(CookieName)
	if err == nil && tok != "" {
		_ = h.repo.DeleteSession(c.Request.Context(), tok)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	// overwrite with expired cookie
	c.SetCookie(CookieName, "", -1, "/", "", h.opts.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handler) setNickname(c *gin.Context) {
	u, _ := CurrentUser(c)
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var nick *string
	if v := strings.TrimSpace(req.Nickname); v != "" {
		nick = &v
	}
	if err := h.repo.SetNickname(c.Request.Context(), u.ID, nick); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "nickname": nick})
}

func (h *handler) changePassword(c *gin.Context) {
	u, _ := CurrentUser(c)
	var req struct {
		Current string `json:"current_password" binding:"required"`
		New     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "both passwords required"})
		return
	}
	if !checkPassword(u.PasswordHash, req.Current) {
		c.JSON(http.StatusForbidden, gin.H{"error": "current password is wrong"})
		return
	}
	if len(req.New) < minPasswordLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short (min 8)"})
		return
	}
	hash, err := hashPassword(req.New)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
		return
	}
	if err := h.repo.SetPassword(c.Request.Context(), u.ID, hash, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// -------- Admin --------

func (h *handler) listUsers(c *gin.Context) {
	users, err := h.repo.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *handler) createUser(c *gin.Context) {
	var req struct {
		credentials
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	if req.Role == "" {
		req.Role = RolePlayer
	}
	u, ok := h.newUser(c, req.Username, req.Password, req.Role)
	if !ok {
		return
	}
	h.audit(c, u.ID, AuditCreateUser, "Created user "+u.Username)
	c.JSON(http.StatusCreated, u)
}

func (h *handler) resetPassword(c *gin.Context) {
	target, ok := h.targetUser(c)
	if !ok {
		return
	}
	temp, err := NewTempPassword(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password generation failed"})
		return
	}
	hash, err := hashPassword(temp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
		return
	}
	if err := h.repo.SetPassword(c.Request.Context(), target.ID, hash, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.audit(c, target.ID, AuditPasswordReset, "Temporary password generated")
	c.JSON(http.StatusOK, gin.H{"temporary_password": temp})
}

func (h *handler) deleteUser(c *gin.Context) {
	target, ok := h.targetUser(c)
	if !ok {
		return
	}
	admin, _ := CurrentUser(c)
	if admin.ID == target.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot delete your own account"})
		return
	}
	if target.IsAdmin() {
		n, err := h.repo.CountAdmins(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if n <= 1 {
			c.JSON(http.StatusConflict, gin.H{"error": "cannot delete the last admin"})
			return
		}
	}
	if err := h.repo.DeleteUser(c.Request.Context(), target.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.audit(c, target.ID, AuditDeleteUser, "Deleted user "+target.Username)
	c.Status(http.StatusNoContent)
}

func (h *handler) listAudit(c *gin.Context) {
	entries, err := h.repo.ListAudit(c.Request.Context(), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handler) targetUser(c *gin.Context) (User, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return User{}, false
	}
	u, err := h.repo.GetUserByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return User{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return User{}, false
	}
	return u, true
}

func (h *handler) audit(c *gin.Context, targetID int64, action, details string) {
	if err := h.repo.AddAudit(c.Request.Context(), UserID(c), targetID, action, details); err != nil {
		h.opts.Logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// -------- Middleware --------

// RequireLogin resolves the session cookie and stores the user in the context.
func RequireLogin(repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, repo) {
			return
		}
		c.Next()
	}
}

// RequireAdmin is RequireLogin plus an admin role check.
func RequireAdmin(repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, repo) {
			return
		}
		if u, _ := CurrentUser(c); !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, repo *Repository) bool {
	tok, err := c.Cookie(CookieName)
	if err != nil || tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	u, err := repo.GetUserBySession(c.Request.Context(), tok)
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth failed"})
		return false
	}
	c.Set(ctxUserKey, u)
	return true
}

// CurrentUser returns the user stored by RequireLogin.
func CurrentUser(c *gin.Context) (User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}

// UserID returns the logged-in user's id, or nil when anonymous.
func UserID(c *gin.Context) *int64 {
	u, ok := CurrentUser(c)
	if !ok {
		return nil
	}
	id := u.ID
	return &id
}
