package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/directory"
	"tetatet/internal/filestore"
	"tetatet/internal/models"
	"tetatet/internal/storage"

	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *auth.AuthService, *storage.BboltStorage) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "api_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := storage.NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewAuthService(t.Context(), auth.Config{TokenExpiry: time.Hour}, store)
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(filepath.Join(tmpDir, "uploads"))
	require.NoError(t, err)

	dir := directory.New(store)

	return New(authService, dir, files, store, "http://localhost:8080"), authService, store
}

func loginAs(t *testing.T, as *auth.AuthService, username string) string {
	t.Helper()

	_, err := as.AddUser(username, "", "secret")
	require.NoError(t, err)
	resp, _ := as.Login(auth.LoginRequest{Username: username, Password: "secret"})
	require.True(t, resp.Success)
	return resp.Token
}

func TestAPI_LoginFlow(t *testing.T) {
	api, as, _ := newTestAPI(t)

	_, err := as.AddUser("alice", "Alice", "secret")
	require.NoError(t, err)

	// Missing password.
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice"}`))
	rec := httptest.NewRecorder()
	api.LoginHandler(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong password.
	req = httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"wrong"}`))
	rec = httptest.NewRecorder()
	api.LoginHandler(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Success sets the cookie and returns a live token.
	req = httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	rec = httptest.NewRecorder()
	api.LoginHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "token", cookies[0].Name)
	require.Equal(t, loginResp.Token, cookies[0].Value)

	userID, err := as.Resolve(loginResp.Token)
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	// Logoff kills the token and clears the cookie.
	req = httptest.NewRequest(http.MethodPost, "/api/logoff", nil)
	req.Header.Set("token", loginResp.Token)
	rec = httptest.NewRecorder()
	api.LogoffHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = as.Resolve(loginResp.Token)
	require.Error(t, err)
}

func TestAPI_RequireAuth(t *testing.T) {
	api, as, _ := newTestAPI(t)
	token := loginAs(t, as, "alice")

	handler := api.RequireAuth(api.MeHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("token", token)
	rec = httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&user))
	require.Equal(t, "alice", user.UserName)

	// The cookie works too.
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	rec = httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequireSameOrigin(t *testing.T) {
	called := false
	handler := RequireSameOrigin(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/login", nil)
	req.Header.Set("Origin", "http://evil.com")
	rec := httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, called)

	req = httptest.NewRequest(http.MethodPost, "http://example.com/api/login", nil)
	req.Header.Set("Origin", "http://example.com")
	rec = httptest.NewRecorder()
	handler(rec, req)
	require.True(t, called)
}

func TestAPI_Users(t *testing.T) {
	api, as, _ := newTestAPI(t)
	token := loginAs(t, as, "alice")
	_, err := as.AddUser("bob", "Bob", "secret")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("token", token)
	rec := httptest.NewRecorder()
	api.RequireAuth(api.UsersHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var users []models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users, 2)
}

// Smallest valid PNG: magic, IHDR, IDAT and IEND chunks.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAPI_MediaRoundTrip(t *testing.T) {
	api, _, _ := newTestAPI(t)

	body, contentType := multipartBody(t, "file", "pixel.png", pngPixel)
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	api.UploadMediaHandler(rec, req, "user1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	require.Equal(t, "http://localhost:8080/api/media/"+resp.ID, resp.URL)

	req = httptest.NewRequest(http.MethodGet, "/api/media/"+resp.ID, nil)
	req.SetPathValue("id", resp.ID)
	rec = httptest.NewRecorder()
	api.GetMediaHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, pngPixel, rec.Body.Bytes())
}

func TestAPI_MediaRejectsNonMedia(t *testing.T) {
	api, _, _ := newTestAPI(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("just text"))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	api.UploadMediaHandler(rec, req, "user1")
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAPI_MediaNotFound(t *testing.T) {
	api, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/media/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	api.GetMediaHandler(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SubscribePush(t *testing.T) {
	api, _, store := newTestAPI(t)

	payload := `{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"p","auth":"a"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	api.SubscribePushHandler(rec, req, "user1")
	require.Equal(t, http.StatusCreated, rec.Code)

	subs, err := store.ListPushSubscriptions("user1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "https://push.example.com/abc", subs[0].Endpoint)

	// Missing keys.
	req = httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(`{"endpoint":"https://push.example.com/x"}`))
	rec = httptest.NewRecorder()
	api.SubscribePushHandler(rec, req, "user1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
