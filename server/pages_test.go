package server

import (
	"net/http"
	"testing"

	"github.com/Daskott/guardian/server/models"
	"github.com/stretchr/testify/assert"
)

func TestDashboardRedirectsToOnboardingWhenNoProfile(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := doJSONRequest("GET", "/dashboard", token, nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/onboarding", rr.Header().Get("Location"))
}

func TestDashboardDoesNotRedirectToOnboardingOnLookupFailure(t *testing.T) {
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

	// An onboarded user whose profile can't be looked up gets an error,
	// never a trip back through onboarding
	rr := doJSONRequest("GET", "/dashboard", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEqual(t, "/onboarding", rr.Header().Get("Location"))
}

func TestDashboardRendersForOnboardedUser(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	err := user.CreateProfile(&models.UserProfile{
		FirstName:   "tony",
		PhoneNumber: "+12345678900",
		SafeWord:    "Pineapple",
	})
	assert.Nil(t, err)

	rr := doJSONRequest("GET", "/dashboard", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
}
