package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/service"
)

func newAuthService() *service.AuthService {
	cfg := &config.Config{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	}
	return service.NewAuthService(cfg, nil)
}

// signStudentToken mints a student-typed token with the same secret, to
// verify the teacher guard rejects it by type and not just by signature.
func signStudentToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	claims := service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		TokenType: service.TokenTypeStudent,
		UserID:    42,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestRequireTeacherWSAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authService := newAuthService()

	router := gin.New()
	router.GET("/monitor", RequireTeacherWSAuth(authService), func(c *gin.Context) {
		claims := GetClaims(c)
		require.NotNil(t, claims)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})

	teacherToken, err := authService.GenerateTeacherToken(7, "Informatics")
	require.NoError(t, err)

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"valid teacher token", "?token=" + teacherToken, http.StatusOK},
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "?token=not-a-jwt", http.StatusUnauthorized},
		{"student token rejected", "?token=" + signStudentToken(t), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/monitor"+tc.query, nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireTeacherWSAuthIgnoresHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authService := newAuthService()

	router := gin.New()
	router.GET("/monitor", RequireTeacherWSAuth(authService), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// EventSource clients cannot set headers; the guard reads the query
	// param only, so a header-only request stays unauthorized.
	teacherToken, err := authService.GenerateTeacherToken(7, "Informatics")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
