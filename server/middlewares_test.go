package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Daskott/guardian/server/models"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// hideProfileTable renames the user_profiles table through a second
// connection to the shared test db, so profile lookups fail the way
// they would during a backend outage. The table is restored on cleanup.
func hideProfileTable(t *testing.T) {
	conn, err := gorm.Open(
		sqliteEncrypt.Open("file::memory:?cache=shared&_pragma_key=test"),
		&gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)},
	)
	assert.Nil(t, err)

	assert.Nil(t, conn.Exec("ALTER TABLE user_profiles RENAME TO user_profiles_hidden").Error)
	t.Cleanup(func() {
		conn.Exec("ALTER TABLE user_profiles_hidden RENAME TO user_profiles")
	})
}

func pageRequest(path, token string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	routeGuardMiddleware(next).ServeHTTP(rr, req)
	return rr
}

func TestRouteGuardRedirectsAnonymousToLogin(t *testing.T) {
	setupTestServer(t, "http://localhost:0")

	rr := pageRequest("/dashboard", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func TestRouteGuardAllowsAnonymousOnAuthPages(t *testing.T) {
	setupTestServer(t, "http://localhost:0")

	rr := pageRequest("/login", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouteGuardBouncesSignedInUserOffAuthPages(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := pageRequest("/login", token)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
}

func TestRouteGuardSendsUsersWithoutProfileToOnboarding(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := pageRequest("/dashboard", token)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/onboarding", rr.Header().Get("Location"))

	// But they can reach the onboarding page itself
	rr = pageRequest("/onboarding", token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouteGuardBouncesOnboardedUsersOffOnboarding(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	err := user.CreateProfile(&models.UserProfile{
		FirstName:   "tony",
		PhoneNumber: "+12345678900",
		SafeWord:    "Pineapple",
	})
	assert.Nil(t, err)

	rr := pageRequest("/onboarding", token)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))

	rr = pageRequest("/dashboard", token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouteGuardPassesThroughWhenProfileLookupFails(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	err := user.CreateProfile(&models.UserProfile{
		FirstName:   "tony",
		PhoneNumber: "+12345678900",
		SafeWord:    "Pineapple",
	})
	assert.Nil(t, err)

	hideProfileTable(t)

	// A failed lookup lets the request through rather than bouncing an
	// onboarded user back to /onboarding
	rr := pageRequest("/dashboard", token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestRouteGuardPassesTrafficThroughWithoutSigningKey(t *testing.T) {
	models.InitializeTestDb()

	// With no signing key the guard must not lock anyone out
	authKeyPair = nil

	rr := pageRequest("/dashboard", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProtectedRoutesRejectInvalidToken(t *testing.T) {
	setupTestServer(t, "http://localhost:0")

	rr := doJSONRequest("GET", "/api/users/1", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
