package backend

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/jo-hoe/goprint/internal/backend/database"
	"github.com/jo-hoe/goprint/internal/common"
	"github.com/jo-hoe/goprint/internal/core"
	"github.com/labstack/echo/v4"
)

const testConfigYAML = `
timeZone: UTC
categories:
  - name: mug
    keyword: mug
    policy: exact
    width: 40
    height: 20
    tolerance: 2
  - name: camiseta
    keyword: camiseta
    policy: bounded
    width: 30
    height: 40
    tolerance: 1
thumbnailWidth: 16
defaultAdminEmail: admin@example.com
notifyExclude: [dev]
users:
  - username: dev
    password: devpass
    email: dev@example.com
  - username: admin
    password: secret
    email: owner@example.com
  - username: nuevo
    password: ""
models:
  hombre: https://example.com/men.png
  mujer: ENV:GOPRINT_TEST_WOMEN_MODEL
`

func newTestServer(t *testing.T) (*echo.Echo, *core.CoreService) {
	t.Helper()
	cfg, err := core.ParseConfig([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	cfg.Storage.Root = t.TempDir()
	cfg.UsersFile = filepath.Join(t.TempDir(), "usuarios.json")

	coreService := core.NewCoreService(cfg)
	t.Cleanup(func() { _ = coreService.Close() })

	e := echo.New()
	e.Validator = &common.GenericEchoValidator{}
	NewAPIService(cfg, coreService).SetRoutes(e)
	return e, coreService
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png encode error: %v", err)
	}
	return buf.Bytes()
}

func multipartOrder(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField error: %v", err)
		}
	}
	for slot, content := range files {
		part, err := writer.CreateFormFile(slot, slot+".png")
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part error: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postJSON(e *echo.Echo, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func get(e *echo.Echo, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, e *echo.Echo) *http.Cookie {
	t.Helper()
	rec := postJSON(e, "/api/login", `{"username":"admin","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == common.SessionCookieName {
			return cookie
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func createMugOrder(t *testing.T, e *echo.Echo) database.Order {
	t.Helper()
	body, contentType := multipartOrder(t,
		map[string]string{"producto": "Mug blanco", "telefono": "3001234567"},
		map[string][]byte{core.SlotImage: pngBytes(t, 40, 20), core.SlotTemplate: []byte("%PDF-template")})
	req := httptest.NewRequest(http.MethodPost, "/api/pedidos", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create order status = %d, body %s", rec.Code, rec.Body.String())
	}

	var response apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response error: %v", err)
	}
	if !response.Success || response.Order == nil {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
	return *response.Order
}

func TestProbe(t *testing.T) {
	e, _ := newTestServer(t)
	rec := get(e, "/probe")
	if rec.Code != http.StatusOK {
		t.Errorf("probe status = %d", rec.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	e, _ := newTestServer(t)

	order := createMugOrder(t, e)
	if order.Folder != "mug_1" {
		t.Errorf("folder = %q, want mug_1", order.Folder)
	}
	if order.ImageURL != "/img/mug/mug_1/lamina_mug_1.png" {
		t.Errorf("image url = %q", order.ImageURL)
	}

	second := createMugOrder(t, e)
	if second.Folder != "mug_2" {
		t.Errorf("second folder = %q, want mug_2", second.Folder)
	}

	rec := get(e, order.ImageURL)
	if rec.Code != http.StatusOK {
		t.Errorf("serving stored image status = %d", rec.Code)
	}
}

func TestCreateOrderRejected(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][]byte
		want   int
	}{
		{
			name:   "wrong mug size",
			fields: map[string]string{"producto": "Mug", "telefono": "300"},
			files:  map[string][]byte{core.SlotImage: pngBytes(t, 10, 10), core.SlotTemplate: []byte("%PDF")},
			want:   http.StatusBadRequest,
		},
		{
			name:   "missing phone",
			fields: map[string]string{"producto": "Mug"},
			files:  map[string][]byte{core.SlotImage: pngBytes(t, 40, 20)},
			want:   http.StatusBadRequest,
		},
		{
			name:   "shirt without sheets",
			fields: map[string]string{"producto": "Camiseta", "telefono": "300"},
			want:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartOrder(t, tt.fields, tt.files)
			req := httptest.NewRequest(http.MethodPost, "/api/pedidos", body)
			req.Header.Set(echo.HeaderContentType, contentType)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			var response apiResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("decode response error: %v", err)
			}
			if response.Success || response.Error == "" {
				t.Errorf("expected an error envelope, got %s", rec.Body.String())
			}
		})
	}
}

func TestCreateOrderNotMultipart(t *testing.T) {
	e, _ := newTestServer(t)
	rec := postJSON(e, "/api/pedidos", `{"producto":"Mug"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCheckUser(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		username string
		want     core.UserCheck
	}{
		{"admin", core.UserCheck{IsAdmin: true, Email: "owner@example.com"}},
		{"nuevo", core.UserCheck{IsAdmin: true, IsSetupRequired: true}},
		{"cliente", core.UserCheck{IsAdmin: false}},
	}
	for _, tt := range tests {
		rec := postJSON(e, "/api/check-user", `{"username":"`+tt.username+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.username, rec.Code)
		}
		var got core.UserCheck
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.username, got, tt.want)
		}
	}

	rec := postJSON(e, "/api/check-user", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty username status = %d, want 400", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	e, _ := newTestServer(t)

	rec := postJSON(e, "/api/login", `{"username":"admin","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var response loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !response.Success || response.RedirectURL != "/admin.html" || response.Email != "owner@example.com" {
		t.Errorf("unexpected login response %+v", response)
	}

	rec = postJSON(e, "/api/login", `{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}
	rec = postJSON(e, "/api/login", `{"username":"nuevo","password":"anything"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("setup user status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	e, _ := newTestServer(t)

	for _, target := range []string{"/api/pedidos", "/api/download-folder/mug/mug_1", "/api/thumbnail/img/mug/mug_1/lamina_mug_1.png"} {
		rec := get(e, target)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, rec.Code)
		}
	}
	rec := postJSON(e, "/api/update-status", `{"imagen_url":"x","nuevo_estado":"y"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("update-status status = %d, want 401", rec.Code)
	}

	bogus := &http.Cookie{Name: common.SessionCookieName, Value: "not-a-session"}
	if rec := get(e, "/api/pedidos", bogus); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown session status = %d, want 401", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	e, _ := newTestServer(t)
	cookie := login(t, e)

	if rec := get(e, "/api/pedidos", cookie); rec.Code != http.StatusOK {
		t.Fatalf("list with session status = %d", rec.Code)
	}
	if rec := postJSON(e, "/api/logout", `{}`, cookie); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	if rec := get(e, "/api/pedidos", cookie); rec.Code != http.StatusUnauthorized {
		t.Errorf("list after logout status = %d, want 401", rec.Code)
	}
}

func TestListAndUpdateOrders(t *testing.T) {
	e, _ := newTestServer(t)
	order := createMugOrder(t, e)
	cookie := login(t, e)

	rec := postJSON(e, "/api/update-status",
		`{"imagen_url":"`+order.ImageURL+`","nuevo_estado":"Enviado"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = get(e, "/api/pedidos", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Error("expected no-cache headers on the order list")
	}
	var orders []orderView
	if err := json.Unmarshal(rec.Body.Bytes(), &orders); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != "Enviado" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if orders[0].ImagePath != "img/mug/mug_1/lamina_mug_1.png" {
		t.Errorf("image path = %q", orders[0].ImagePath)
	}
	if rec := get(e, "/api/thumbnail/"+orders[0].ImagePath, cookie); rec.Code != http.StatusOK {
		t.Errorf("thumbnail of listed image status = %d", rec.Code)
	}

	rec = postJSON(e, "/api/update-status", `{"imagen_url":"/img/none.png","nuevo_estado":"Enviado"}`, cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", rec.Code)
	}
	rec = postJSON(e, "/api/update-status", `{"imagen_url":"`+order.ImageURL+`"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing status = %d, want 400", rec.Code)
	}
}

func TestDownloadFolder(t *testing.T) {
	e, _ := newTestServer(t)
	createMugOrder(t, e)
	cookie := login(t, e)

	rec := get(e, "/api/download-folder/mug/mug_1", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "application/zip" {
		t.Errorf("content type = %q", got)
	}
	if got := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(got, "mug_1.zip") {
		t.Errorf("content disposition = %q", got)
	}

	reader, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip read error: %v", err)
	}
	names := []string{}
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if want := []string{"lamina_mug_1.png", "plantilla_mug_1.png"}; !slices.Equal(names, want) {
		t.Errorf("archive entries = %v, want %v", names, want)
	}

	if rec := get(e, "/api/download-folder/mug/mug_9", cookie); rec.Code != http.StatusNotFound {
		t.Errorf("missing folder status = %d, want 404", rec.Code)
	}
}

func TestThumbnail(t *testing.T) {
	e, _ := newTestServer(t)
	order := createMugOrder(t, e)
	cookie := login(t, e)

	rec := get(e, "/api/thumbnail"+order.ImageURL, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	thumbnail, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("thumbnail decode error: %v", err)
	}
	if thumbnail.Bounds().Dx() > 16 {
		t.Errorf("thumbnail width = %d, want <= 16", thumbnail.Bounds().Dx())
	}

	if rec := get(e, "/api/thumbnail/img/mug/mug_1/missing.png", cookie); rec.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d, want 404", rec.Code)
	}
}

func TestConfigModelsAndAdminEmail(t *testing.T) {
	t.Setenv("GOPRINT_TEST_WOMEN_MODEL", "https://example.com/women.png")
	e, _ := newTestServer(t)

	rec := get(e, "/api/config-models")
	var models map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if models["hombre"] != "https://example.com/men.png" || models["mujer"] != "https://example.com/women.png" {
		t.Errorf("unexpected models %v", models)
	}

	rec = get(e, "/api/get-admin-email")
	var email map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &email); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if email["email"] != "owner@example.com" {
		t.Errorf("expected the shop owner email, got %v", email)
	}
}

func TestCompleteSetup(t *testing.T) {
	e, _ := newTestServer(t)

	rec := postJSON(e, "/api/complete-setup",
		`{"currentUsername":"nuevo","newUsername":"tienda","newPassword":"clave123","newEmail":"tienda@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(e, "/api/login", `{"username":"tienda","password":"clave123"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("login with new account status = %d", rec.Code)
	}

	rec = postJSON(e, "/api/complete-setup",
		`{"currentUsername":"nuevo","newUsername":"otro","newPassword":"123","newEmail":"otro@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d, want 400", rec.Code)
	}
}
