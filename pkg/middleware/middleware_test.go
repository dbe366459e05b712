package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/etekin/library-backend/pkg/auth"
	md "github.com/etekin/library-backend/pkg/middleware"
)

func signToken(t *testing.T, userID int, username, role string, expiresAt time.Time) string {
	t.Helper()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiresAt)},
	}
	claims.Profile.UserID = userID
	claims.Profile.Username = username
	claims.Profile.Role = role

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.JWTKey)
	require.NoError(t, err)
	return token
}

func TestJwtAuthentication(t *testing.T) {
	e := echo.New()
	e.GET("/staff", func(c echo.Context) error {
		id, err := auth.FromContext(c.Request().Context())
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, id.Username)
	}, md.JwtAuthentication, md.RequireRole(auth.RoleStaff))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{
			name:     "no header",
			header:   "",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "not a bearer token",
			header:   "Basic abc",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "garbage token",
			header:   "Bearer not.a.jwt",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired token",
			header:   "Bearer " + signToken(t, 3, "kerem", auth.RoleStaff, time.Now().Add(-time.Hour)),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "student on a staff route",
			header:   "Bearer " + signToken(t, 7, "ayse", auth.RoleStudent, time.Now().Add(time.Hour)),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "staff ok",
			header:   "Bearer " + signToken(t, 3, "kerem", auth.RoleStaff, time.Now().Add(time.Hour)),
			wantCode: http.StatusOK,
			wantBody: "kerem",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/staff", http.NoBody)
			if tt.header != "" {
				r.Header.Set(md.AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, r)

			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
