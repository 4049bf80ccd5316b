package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"menu_service_go/internal/model"
	"menu_service_go/internal/service"
	applog "menu_service_go/pkg/log"

	"github.com/gin-gonic/gin"
)

type fakeUserService struct {
	registerFn   func(username, password string) (*model.User, error)
	loginFn      func(username, password string) (string, string, error)
	logoutFn     func(token string) error
	getProfileFn func(username string) (*model.User, error)
	listUsersFn  func(page, size int) ([]model.User, int64, error)
}

func (f *fakeUserService) Register(username, password string) (*model.User, error) {
	if f.registerFn != nil {
		return f.registerFn(username, password)
	}
	return nil, nil
}

func (f *fakeUserService) Login(username, password string) (string, string, error) {
	if f.loginFn != nil {
		return f.loginFn(username, password)
	}
	return "", "", nil
}

func (f *fakeUserService) Logout(token string) error {
	if f.logoutFn != nil {
		return f.logoutFn(token)
	}
	return nil
}

func (f *fakeUserService) GetProfile(username string) (*model.User, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(username)
	}
	return nil, nil
}

func (f *fakeUserService) ListUsers(page, size int) ([]model.User, int64, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(page, size)
	}
	return []model.User{}, 0, nil
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	applog.Init("error", "console", "")
	m.Run()
}

func newRouter(h *UserHandler) *gin.Engine {
	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.GET("/profile", h.GetProfile)
	r.GET("/users", h.ListUsers)
	return r
}

func doReq(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_Success(t *testing.T) {
	svc := &fakeUserService{
		registerFn: func(username, password string) (*model.User, error) {
			return &model.User{
				ID:        1,
				Username:  username,
				Role:      "USER",
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		},
	}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodPost, "/register", `{"username":"alice","password":"123456"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expect 201, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	svc := &fakeUserService{}
	r := newRouter(NewUserHandler(svc))

	// 缺少 password 字段
	w := doReq(r, http.MethodPost, "/register", `{"username":"alice"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expect 400, got %d, body=%s", w.Code, w.Body.String())
	}

	// 非法 JSON
	w = doReq(r, http.MethodPost, "/register", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expect 400 for invalid json, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestRegister_UserExists(t *testing.T) {
	svc := &fakeUserService{
		registerFn: func(username, password string) (*model.User, error) {
			return nil, service.ErrUserAlreadyExists
		},
	}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodPost, "/register", `{"username":"alice","password":"123456"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expect 409, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &fakeUserService{
		loginFn: func(username, password string) (string, string, error) {
			return "", "", service.ErrInvalidCredentials
		},
	}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expect 401, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestLogin_Success(t *testing.T) {
	svc := &fakeUserService{
		loginFn: func(username, password string) (string, string, error) {
			return "access-token", "refresh-token", nil
		},
	}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodPost, "/login", `{"username":"alice","password":"123456"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expect 200, got %d, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("expect data to be map, got %T", resp["data"])
	}
	if data["accessToken"] != "access-token" || data["refreshToken"] != "refresh-token" {
		t.Fatalf("unexpected tokens: %v", data)
	}
}

func TestLogout_MissingAuthorizationHeader(t *testing.T) {
	svc := &fakeUserService{}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodPost, "/logout", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expect 401, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestLogout_Success(t *testing.T) {
	var gotToken string
	svc := &fakeUserService{
		logoutFn: func(token string) error {
			gotToken = token
			return nil
		},
	}
	r := gin.New()
	r.POST("/logout", NewUserHandler(svc).Logout)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expect 200, got %d, body=%s", w.Code, w.Body.String())
	}
	if gotToken != "some-token" {
		t.Fatalf("expect token passed to service, got %q", gotToken)
	}
}

func TestGetProfile_NoUserInContext(t *testing.T) {
	svc := &fakeUserService{}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodGet, "/profile", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expect 401, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestGetProfile_Success(t *testing.T) {
	svc := &fakeUserService{}
	h := NewUserHandler(svc)

	r := gin.New()
	r.GET("/profile", func(c *gin.Context) {
		c.Set("user", &model.User{
			ID:        7,
			Username:  "alice",
			Role:      "USER",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
		h.GetProfile(c)
	})

	w := doReq(r, http.MethodGet, "/profile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expect 200, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestListUsers_Success(t *testing.T) {
	svc := &fakeUserService{
		listUsersFn: func(page, size int) ([]model.User, int64, error) {
			if page != 2 || size != 5 {
				t.Fatalf("expect page=2 size=5, got page=%d size=%d", page, size)
			}
			return []model.User{{ID: 6, Username: "frank"}}, 11, nil
		},
	}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodGet, "/users?page=2&size=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expect 200, got %d, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("expect data to be map, got %T", resp["data"])
	}
	if data["totalElements"] != float64(11) || data["totalPages"] != float64(3) {
		t.Fatalf("unexpected pagination fields: %v", data)
	}
}

func TestListUsers_InvalidPage(t *testing.T) {
	svc := &fakeUserService{}
	r := newRouter(NewUserHandler(svc))

	w := doReq(r, http.MethodGet, "/users?page=0", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expect 400, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestMapServiceError_Default500(t *testing.T) {
	status, msg := mapServiceError(errors.New("unknown"))
	if status != http.StatusInternalServerError || msg != "Internal server error" {
		t.Fatalf("unexpected map result: %d %s", status, msg)
	}
}
