package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/auth/key"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/relay"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/Daskott/guardian/shared"
	"github.com/stretchr/testify/assert"
)

func setupTestServer(t *testing.T, webhookURL string) {
	models.InitializeTestDb()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Nil(t, err)

	authKeyPair = &key.KeyPair{
		Kid:        "test-key-id",
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}
	relayClient = relay.NewClient(webhookURL)
	twilioClient = twilio.NewClient(shared.TwilioConfig{}, "", true)
}

func createTestUser(t *testing.T, email string) *models.User {
	user := &models.User{Email: email, Password: "very-secure"}
	assert.Nil(t, models.CreateUser(user))
	return user
}

func accessTokenFor(t *testing.T, user *models.User) string {
	_, token, err := newAccessToken(user)
	assert.Nil(t, err)
	return token
}

func doJSONRequest(method, target, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router().ServeHTTP(rr, req)
	return rr
}

func urlID(id uint) string {
	return fmt.Sprint(id)
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) ResponsePayload {
	payload := ResponsePayload{}
	assert.Nil(t, json.NewDecoder(rr.Body).Decode(&payload))
	return payload
}

// ---------------------------------------------------------------------------------//
// Trigger call
// --------------------------------------------------------------------------------//

func TestTriggerCallRequiresSession(t *testing.T) {
	webhookCalls := 0
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
	}))
	defer testServer.Close()

	setupTestServer(t, testServer.URL)

	rr := doJSONRequest("POST", "/api/trigger-call", "", map[string]interface{}{
		"phone": "+12345678900",
	})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 0, webhookCalls, "The webhook should not be called without a session")
}

func TestTriggerCallRequiresPhone(t *testing.T) {
	webhookCalls := 0
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
	}))
	defer testServer.Close()

	setupTestServer(t, testServer.URL)
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := doJSONRequest("POST", "/api/trigger-call", token, map[string]interface{}{
		"name": "tony",
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeResponse(t, rr).Error, "phone number required")
	assert.Equal(t, 0, webhookCalls, "The webhook should not be called without a phone number")
}

func TestTriggerCallForwardsPayload(t *testing.T) {
	var received relay.Payload
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	setupTestServer(t, testServer.URL)
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	before := time.Now()
	rr := doJSONRequest("POST", "/api/trigger-call", token, map[string]interface{}{
		"phone":           "+12345678900",
		"name":            "tony",
		"code_word":       "Pineapple",
		"emergency_name":  "pepper",
		"emergency_phone": "+12345678901",
		"immediate":       true,
	})
	after := time.Now()

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeResponse(t, rr).Success)

	assert.Equal(t, "+12345678900", received.Phone)
	assert.Equal(t, "Pineapple", received.CodeWord)
	assert.Equal(t, "pepper", received.EmergencyName)

	// An immediate call is logged as completed, stamped with the time
	// of the request itself
	stats, err := models.CurrentCallStats(user.ID)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), stats.CompletedCallCount)
	assert.Equal(t, int64(0), stats.PendingCallCount)

	calls, _, err := user.FetchCalls(models.COMPLETED_CALL, 1)
	assert.Nil(t, err)
	assert.Len(t, calls, 1)
	assert.False(t, calls[0].ScheduledAt.Before(before))
	assert.False(t, calls[0].ScheduledAt.After(after))
}

func TestTriggerCallSurfacesUpstreamFailure(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("no agents available"))
	}))
	defer testServer.Close()

	setupTestServer(t, testServer.URL)
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := doJSONRequest("POST", "/api/trigger-call", token, map[string]interface{}{
		"phone":     "+12345678900",
		"immediate": true,
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	payload := decodeResponse(t, rr)
	assert.Contains(t, payload.Details, "502")
	assert.Contains(t, payload.Details, "no agents available")

	// No call is logged when the relay fails
	stats, err := models.CurrentCallStats(user.ID)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), stats.CompletedCallCount)
}

// ---------------------------------------------------------------------------------//
// Auth endpoints
// --------------------------------------------------------------------------------//

func TestLogInAndLogOut(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	createTestUser(t, "stark@avengers.com")

	rr := doJSONRequest("POST", "/api/login", "", map[string]string{
		"email":    "stark@avengers.com",
		"password": "very-secure",
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	cookieNames := []string{}
	var refreshToken string
	for _, cookie := range cookies {
		cookieNames = append(cookieNames, cookie.Name)
		if cookie.Name == REFRESH_TOKEN_COOKIE {
			refreshToken = cookie.Value
		}
	}
	assert.Contains(t, cookieNames, ACCESS_TOKEN_COOKIE)
	assert.Contains(t, cookieNames, REFRESH_TOKEN_COOKIE)

	// The refresh token is persisted hashed, never in the clear
	_, err := models.FindSessionByTokenHash(refreshToken)
	assert.NotNil(t, err)

	// Wrong password is rejected
	rr = doJSONRequest("POST", "/api/login", "", map[string]string{
		"email":    "stark@avengers.com",
		"password": "not-the-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Logging out revokes the refresh session
	req := httptest.NewRequest("POST", "/api/logout", strings.NewReader(""))
	req.AddCookie(&http.Cookie{Name: REFRESH_TOKEN_COOKIE, Value: refreshToken})
	logoutRecorder := httptest.NewRecorder()
	router().ServeHTTP(logoutRecorder, req)
	assert.Equal(t, http.StatusOK, logoutRecorder.Code)
}

func TestFirstUserCanBeCreatedWithoutToken(t *testing.T) {
	setupTestServer(t, "http://localhost:0")

	rr := doJSONRequest("POST", "/api/users", "", map[string]string{
		"email":    "stark@avengers.com",
		"password": "very-secure",
	})
	assert.Equal(t, http.StatusCreated, rr.Code)

	// Once an account exists, user creation requires an admin token
	rr = doJSONRequest("POST", "/api/users", "", map[string]string{
		"email":    "web@avengers.com",
		"password": "secure???",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// ---------------------------------------------------------------------------------//
// Scheduled calls
// --------------------------------------------------------------------------------//

func TestCancelScheduledCall(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	target, err := user.ScheduleCall(time.Now().Add(time.Hour))
	assert.Nil(t, err)
	other, err := user.ScheduleCall(time.Now().Add(2 * time.Hour))
	assert.Nil(t, err)

	targetPath := "/api/users/" + urlID(user.ID) + "/calls/" + urlID(target.ID) + "/cancel"
	rr := doJSONRequest("PUT", targetPath, token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	cancelled, err := models.FindScheduledCall(target.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.CANCELLED_CALL, cancelled.CallStatus.Name)

	untouched, err := models.FindScheduledCall(other.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.PENDING_CALL, untouched.CallStatus.Name, "Other calls should stay pending")

	// Cancelling again reports not found
	rr = doJSONRequest("PUT", targetPath, token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateScheduledCallRejectsPastTime(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")
	token := accessTokenFor(t, user)

	rr := doJSONRequest("POST", "/api/users/"+urlID(user.ID)+"/calls", token, map[string]string{
		"scheduled_time": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUserCannotTouchAnotherUsersResources(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	admin := createTestUser(t, "stark@avengers.com")
	other := createTestUser(t, "web@avengers.com")
	otherToken := accessTokenFor(t, other)

	rr := doJSONRequest("GET", "/api/users/"+urlID(admin.ID)+"/contacts", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// ---------------------------------------------------------------------------------//
// Call status webhook
// --------------------------------------------------------------------------------//

func TestCallStatusWebhookCompletesCall(t *testing.T) {
	setupTestServer(t, "http://localhost:0")
	user := createTestUser(t, "stark@avengers.com")

	call, err := user.ScheduleCall(time.Now().Add(-time.Minute))
	assert.Nil(t, err)

	form := url.Values{}
	form.Set("call_id", urlID(call.ID))
	form.Set("status", "completed")

	req := httptest.NewRequest("POST", "/webhooks/call-status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	completed, err := models.FindScheduledCall(call.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.COMPLETED_CALL, completed.CallStatus.Name)
}
