package dispatcher

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/relay"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/shared"
	"github.com/stretchr/testify/assert"
)

func setupTestUser(t *testing.T) *models.User {
	user := &models.User{Email: "stark@avengers.com", Password: "very-secure"}
	assert.Nil(t, models.CreateUser(user))

	err := user.CreateProfile(&models.UserProfile{
		FirstName:   "tony",
		PhoneNumber: "+12345678900",
		SafeWord:    "Pineapple",
	})
	assert.Nil(t, err)

	err = user.AddContact(&models.SafetyContact{
		Name:        "pepper",
		PhoneNumber: "+12345678901",
	})
	assert.Nil(t, err)

	return user
}

func newTestDispatcher(t *testing.T, webhookURL string) *CallDispatcher {
	dispatcher, err := NewCallDispatcher(
		work.NewWorkerAdapter("UTC"),
		relay.NewClient(webhookURL),
		twilio.NewClient(shared.TwilioConfig{}, "", true),
		DEFAULT_DISPATCH_SWEEP_CRON,
	)
	assert.Nil(t, err)

	return dispatcher
}

func TestDispatchDueCalls(t *testing.T) {
	models.InitializeTestDb()

	var received relay.Payload
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	user := setupTestUser(t)

	dueCall, err := user.ScheduleCall(time.Now().Add(-time.Minute))
	assert.Nil(t, err)

	futureCall, err := user.ScheduleCall(time.Now().Add(time.Hour))
	assert.Nil(t, err)

	dispatcher := newTestDispatcher(t, testServer.URL)
	assert.Nil(t, dispatcher.DispatchDueCalls())

	// The due call is relayed with the user's profile & primary contact
	assert.Equal(t, "+12345678900", received.Phone)
	assert.Equal(t, "tony", received.Name)
	assert.Equal(t, "Pineapple", received.CodeWord)
	assert.Equal(t, "pepper", received.EmergencyName)
	assert.Equal(t, "+12345678901", received.EmergencyPhone)

	dispatched, err := models.FindScheduledCall(dueCall.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.COMPLETED_CALL, dispatched.CallStatus.Name)

	// Calls that aren't due yet are left alone
	untouched, err := models.FindScheduledCall(futureCall.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.PENDING_CALL, untouched.CallStatus.Name)
}

func TestDispatchLeavesCallPendingOnRelayFailure(t *testing.T) {
	models.InitializeTestDb()

	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer testServer.Close()

	user := setupTestUser(t)

	dueCall, err := user.ScheduleCall(time.Now().Add(-time.Minute))
	assert.Nil(t, err)

	dispatcher := newTestDispatcher(t, testServer.URL)
	assert.Nil(t, dispatcher.DispatchDueCalls())

	// The failed call stays pending so the next sweep retries it
	pending, err := models.FindScheduledCall(dueCall.ID)
	assert.Nil(t, err)
	assert.Equal(t, models.PENDING_CALL, pending.CallStatus.Name)
}
