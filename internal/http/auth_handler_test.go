package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"guide-connect/internal/domain"
	"guide-connect/internal/repository"
	"guide-connect/internal/service"
)

type mockUserRepo struct {
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, mongo.ErrNoDocuments
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, mongo.ErrNoDocuments
	}
	return m.GetByID(context.Background(), id)
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, user domain.User) (domain.User, error) {
	stored, ok := m.usersByID[user.ID]
	if !ok {
		return domain.User{}, mongo.ErrNoDocuments
	}
	stored.Name = user.Name
	stored.Phone = user.Phone
	stored.Country = user.Country
	stored.Gender = user.Gender
	stored.Role = user.Role
	stored.AvatarURL = user.AvatarURL
	stored.ProfileIncomplete = user.ProfileIncomplete
	stored.Guide = user.Guide
	stored.UpdatedAt = user.UpdatedAt
	m.usersByID[user.ID] = stored
	return stored, nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	user, ok := m.usersByID[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	user.PasswordHash = passwordHash
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	user, ok := m.usersByID[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	user.LastLogin = &at
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	user, ok := m.usersByID[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	user.PasswordResetTokenHash = tokenHash
	user.PasswordResetExpiresAt = &expiresAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, newPasswordHash string) (domain.User, error) {
	for id, user := range m.usersByID {
		if user.PasswordResetTokenHash != tokenHash {
			continue
		}
		if user.PasswordResetExpiresAt == nil || !user.PasswordResetExpiresAt.After(now) {
			continue
		}
		user.PasswordHash = newPasswordHash
		user.PasswordResetTokenHash = ""
		user.PasswordResetExpiresAt = nil
		m.usersByID[id] = user
		return user, nil
	}
	return domain.User{}, mongo.ErrNoDocuments
}

func (m *mockUserRepo) UpsertByEmail(ctx context.Context, user domain.User) (domain.User, error) {
	if id, ok := m.usersByEmail[user.Email]; ok {
		return m.GetByID(ctx, id)
	}
	if err := m.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (m *mockUserRepo) LinkGoogleID(_ context.Context, id, googleID string) error {
	user, ok := m.usersByID[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	if user.GoogleID == "" {
		user.GoogleID = googleID
		m.usersByID[id] = user
	}
	return nil
}

func (m *mockUserRepo) ListGuides(_ context.Context) ([]domain.User, error) {
	var guides []domain.User
	for _, user := range m.usersByID {
		if user.Role == domain.RoleGuide {
			guides = append(guides, user)
		}
	}
	return guides, nil
}

func (m *mockUserRepo) SetVerificationStatus(_ context.Context, id string, status domain.VerificationStatus) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok || user.Role != domain.RoleGuide {
		return domain.User{}, mongo.ErrNoDocuments
	}
	if user.Guide == nil {
		user.Guide = &domain.GuideProfile{}
	}
	user.Guide.Verification = status
	m.usersByID[id] = user
	return user, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

type fakeProviderAdapter struct {
	profile service.ProviderProfile
	err     error
}

func (f *fakeProviderAdapter) AuthURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (f *fakeProviderAdapter) ResolveProfile(_ context.Context, _ string) (service.ProviderProfile, error) {
	return f.profile, f.err
}

type testEnv struct {
	router *gin.Engine
	repo   *mockUserRepo
	jwtSvc *service.JWTService
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newMockUserRepo()
	logger := zap.NewNop()
	authSvc := service.NewAuthService(logger, repo, nil, allowAllLimiter{})
	oauthSvc := service.NewOAuthService(logger, repo, &fakeProviderAdapter{}, nil)
	jwtSvc := service.NewJWTService("test-secret", time.Hour)

	authH := NewAuthHandler(logger, authSvc, oauthSvc, jwtSvc, "http://client.test", false)
	adminH := NewAdminHandler(logger, authSvc)
	router := NewRouter(logger, authH, adminH, jwtSvc, authSvc, "http://client.test")

	return &testEnv{router: router, repo: repo, jwtSvc: jwtSvc}
}

func performRequest(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return body
}

func registerUser(t *testing.T, env *testEnv, name, email, password string) (string, map[string]any) {
	t.Helper()
	rec := performRequest(env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("register: expected session token in response")
	}
	return token, body
}

func TestAuthHandlerRegister_Success(t *testing.T) {
	env := setupTestRouter(t)

	token, body := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	if body["status"] != "success" {
		t.Fatalf("expected success envelope, got %v", body["status"])
	}
	data, _ := body["data"].(map[string]any)
	user, _ := data["user"].(map[string]any)
	if user == nil {
		t.Fatalf("expected data.user in response")
	}
	if user["role"] != "tourist" {
		t.Fatalf("expected default role tourist, got %v", user["role"])
	}
	if user["profileIncomplete"] != true {
		t.Fatalf("expected profileIncomplete true, got %v", user["profileIncomplete"])
	}
	if _, ok := user["passwordHash"]; ok {
		t.Fatalf("password hash must never leave the API")
	}

	claims, err := env.jwtSvc.Parse(token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Role != domain.RoleTourist {
		t.Fatalf("expected tourist role claim, got %q", claims.Role)
	}
}

func TestAuthHandlerRegister_SetsSessionCookie(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Asha",
		"email":    "asha@example.com",
		"password": "secret1",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			session = c
		}
	}
	if session == nil {
		t.Fatalf("expected session cookie to be set")
	}
	if !session.HttpOnly {
		t.Fatalf("session cookie must be httpOnly")
	}
	if session.Value == "" {
		t.Fatalf("session cookie must carry the token")
	}
}

func TestAuthHandlerRegister_DuplicateEmail(t *testing.T) {
	env := setupTestRouter(t)
	registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Asha",
		"email":    "ASHA@example.com",
		"password": "secret1",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "User already exists with this email" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestAuthHandlerRegister_InvalidRequest(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "not-an-email",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestAuthHandlerRegister_ShortPasswordValidation(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Asha",
		"email":    "asha@example.com",
		"password": "abc",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Validation Error" {
		t.Fatalf("expected validation envelope, got %v", body["message"])
	}
	if _, ok := body["errors"]; !ok {
		t.Fatalf("expected field messages in validation envelope")
	}
}

func TestAuthHandlerLogin_WrongPassword(t *testing.T) {
	env := setupTestRouter(t)
	registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "asha@example.com",
		"password": "wrong",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Invalid credentials" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestAuthHandlerLogin_UnknownEmailSameError(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "secret1",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Invalid credentials" {
		t.Fatalf("unknown email must not be distinguishable, got %v", body["message"])
	}
}

func TestAuthHandlerLogin_Success(t *testing.T) {
	env := setupTestRouter(t)
	registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "asha@example.com",
		"password": "secret1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if token, _ := body["token"].(string); token == "" {
		t.Fatalf("expected session token")
	}
}

func TestAuthHandlerMe(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodGet, "/api/auth/me", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	user, _ := data["user"].(map[string]any)
	if user == nil || user["email"] != "asha@example.com" {
		t.Fatalf("expected current user profile, got %v", body)
	}
}

func TestAuthHandlerUpdateProfile_CompletesProfile(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPut, "/api/auth/profile", map[string]any{
		"phone":             "+9771234567",
		"country":           "Nepal",
		"gender":            "female",
		"profileIncomplete": false,
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	user, _ := data["user"].(map[string]any)
	if user == nil || user["profileIncomplete"] != false {
		t.Fatalf("expected completed profile, got %v", body)
	}
}

func TestAuthHandlerUpdateProfile_IncompleteContactRejected(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPut, "/api/auth/profile", map[string]any{
		"profileIncomplete": false,
	}, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Validation Error" {
		t.Fatalf("expected validation envelope, got %v", body["message"])
	}
}

func TestAuthHandlerChangePassword(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPut, "/api/auth/change-password", map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "newpass1",
	}, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Current password is incorrect" {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	rec = performRequest(env.router, http.MethodPut, "/api/auth/change-password", map[string]string{
		"currentPassword": "secret1",
		"newPassword":     "newpass1",
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = performRequest(env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "asha@example.com",
		"password": "newpass1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", rec.Code)
	}
}

func TestAuthHandlerForgotPassword_UnknownEmail(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "absent@example.com",
	}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "No user with that email" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestAuthHandlerResetPassword_FullFlow(t *testing.T) {
	env := setupTestRouter(t)
	registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "asha@example.com",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	resetToken, _ := body["resetToken"].(string)
	if resetToken == "" {
		t.Fatalf("expected reset token in demo response")
	}

	rec = performRequest(env.router, http.MethodPost, "/api/auth/reset-password/"+resetToken, map[string]string{
		"password": "newpass1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = performRequest(env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "asha@example.com",
		"password": "newpass1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login with reset password, got %d", rec.Code)
	}

	// El token es de un solo uso.
	rec = performRequest(env.router, http.MethodPost, "/api/auth/reset-password/"+resetToken, map[string]string{
		"password": "another1",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 on replay, got %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["message"] != "Token is invalid or has expired" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestAuthHandlerResetPassword_StaleToken(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/api/auth/reset-password/deadbeef", map[string]string{
		"password": "newpass1",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Token is invalid or has expired" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestAuthHandlerGoogleLogin_RedirectsToProvider(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodGet, "/api/auth/google", nil, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://provider.test/auth?state=") {
		t.Fatalf("unexpected redirect target: %q", location)
	}
}

func TestAuthHandlerGoogleCallback_BadStateRedirectsToLogin(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodGet, "/api/auth/google/callback?state=bogus&code=any", nil, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "http://client.test/login?error=oauth_failed" {
		t.Fatalf("unexpected redirect target: %q", rec.Header().Get("Location"))
	}
}

func TestAdminHandlerVerifyGuide(t *testing.T) {
	env := setupTestRouter(t)

	adminToken, adminBody := registerUser(t, env, "Admin", "admin@example.com", "secret1")
	data, _ := adminBody["data"].(map[string]any)
	adminUser, _ := data["user"].(map[string]any)
	adminID, _ := adminUser["id"].(string)
	stored := env.repo.usersByID[adminID]
	stored.Role = domain.RoleAdmin
	env.repo.usersByID[adminID] = stored

	_, guideBody := registerUser(t, env, "Gopal", "gopal@example.com", "secret1")
	gdata, _ := guideBody["data"].(map[string]any)
	guideUser, _ := gdata["user"].(map[string]any)
	guideID, _ := guideUser["id"].(string)
	g := env.repo.usersByID[guideID]
	g.Role = domain.RoleGuide
	g.Guide = &domain.GuideProfile{Verification: domain.VerificationPending}
	env.repo.usersByID[guideID] = g

	rec := performRequest(env.router, http.MethodGet, "/api/admin/guides", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if results, _ := body["results"].(float64); results != 1 {
		t.Fatalf("expected one guide, got %v", body["results"])
	}

	rec = performRequest(env.router, http.MethodPut, "/api/admin/guides/"+guideID+"/verify", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if env.repo.usersByID[guideID].Guide.Verification != domain.VerificationVerified {
		t.Fatalf("expected guide marked verified")
	}

	rec = performRequest(env.router, http.MethodPut, "/api/admin/guides/missing/verify", nil, adminToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestAdminRoutes_ForbiddenForTourist(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := registerUser(t, env, "Asha", "asha@example.com", "secret1")

	rec := performRequest(env.router, http.MethodGet, "/api/admin/guides", nil, token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "You do not have permission to perform this action" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestRouterHealthAndNotFound(t *testing.T) {
	env := setupTestRouter(t)

	rec := performRequest(env.router, http.MethodGet, "/api/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "OK" {
		t.Fatalf("unexpected health payload: %v", body)
	}

	rec = performRequest(env.router, http.MethodGet, "/api/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["status"] != "error" || !strings.Contains(body["message"].(string), "/api/nope") {
		t.Fatalf("unexpected not-found payload: %v", body)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://client.test" {
		t.Fatalf("unexpected allow-origin: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}
}
