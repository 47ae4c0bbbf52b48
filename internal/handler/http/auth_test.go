package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/rookgm/cryptomart/internal/handler/http/mocks"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func authCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == "auth_token" {
			return c
		}
	}
	return nil
}

func TestAuthHandler_RegisterAdmin(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(t *testing.T) *mocks.MockAuthService
		wantStatusCode int
		wantCookie     bool
	}{
		{
			// 200 - admin registered and authenticated
			name: "valid_request_return_200",
			body: `{"login":"admin","password":"secret"}`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()

				svcMock := mocks.NewMockAuthService(ctrl)
				svcMock.EXPECT().Register(gomock.Any(), "admin", "secret").
					Return(&models.Admin{ID: 1, Login: "admin"}, nil).AnyTimes()
				svcMock.EXPECT().Login(gomock.Any(), "admin", "secret").
					Return("token-value", nil).AnyTimes()
				return svcMock
			},
			wantStatusCode: http.StatusOK,
			wantCookie:     true,
		},
		{
			// 409 - login already taken
			name: "duplicate_login_return_409",
			body: `{"login":"admin","password":"secret"}`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()

				svcMock := mocks.NewMockAuthService(ctrl)
				svcMock.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, models.ErrConflictData).AnyTimes()
				return svcMock
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			// 400 - empty credentials
			name: "empty_password_return_400",
			body: `{"login":"admin","password":""}`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()
				return mocks.NewMockAuthService(ctrl)
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			// 400 - bad request format
			name: "broken_json_return_400",
			body: `{"login":`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()
				return mocks.NewMockAuthService(ctrl)
			},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal("cannot create request", zap.Error(err))
			}

			w := httptest.NewRecorder()
			st := tt.setup(t)

			handler := NewAuthHandler(st)
			h := handler.RegisterAdmin()
			h(w, req)

			res := w.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatusCode, res.StatusCode)

			cookie := authCookie(res)
			if tt.wantCookie {
				if assert.NotNil(t, cookie) {
					assert.Equal(t, "token-value", cookie.Value)
					assert.True(t, cookie.HttpOnly)
				}
			} else {
				assert.Nil(t, cookie)
			}
		})
	}
}

func TestAuthHandler_LoginAdmin(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(t *testing.T) *mocks.MockAuthService
		wantStatusCode int
		wantCookie     bool
	}{
		{
			// 200 - admin authenticated
			name: "valid_credentials_return_200",
			body: `{"login":"admin","password":"secret"}`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()

				svcMock := mocks.NewMockAuthService(ctrl)
				svcMock.EXPECT().Login(gomock.Any(), "admin", "secret").
					Return("token-value", nil).AnyTimes()
				return svcMock
			},
			wantStatusCode: http.StatusOK,
			wantCookie:     true,
		},
		{
			// 401 - invalid login or password
			name: "wrong_password_return_401",
			body: `{"login":"admin","password":"wrong"}`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()

				svcMock := mocks.NewMockAuthService(ctrl)
				svcMock.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).
					Return("", models.ErrInvalidCredentials).AnyTimes()
				return svcMock
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			// 400 - bad request format
			name: "broken_json_return_400",
			body: `{"login":`,
			setup: func(t *testing.T) *mocks.MockAuthService {
				ctrl := gomock.NewController(t)
				defer ctrl.Finish()
				return mocks.NewMockAuthService(ctrl)
			},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal("cannot create request", zap.Error(err))
			}

			w := httptest.NewRecorder()
			st := tt.setup(t)

			handler := NewAuthHandler(st)
			h := handler.LoginAdmin()
			h(w, req)

			res := w.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatusCode, res.StatusCode)

			cookie := authCookie(res)
			if tt.wantCookie {
				if assert.NotNil(t, cookie) {
					assert.Equal(t, "token-value", cookie.Value)
					assert.True(t, cookie.HttpOnly)
				}
			} else {
				assert.Nil(t, cookie)
			}
		})
	}
}
