package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Daskott/guardian/server/auth"
	"github.com/Daskott/guardian/server/auth/key"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/relay"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type TriggerCallParams struct {
	Phone          string `json:"phone"`
	Name           string `json:"name"`
	CodeWord       string `json:"code_word"`
	EmergencyName  string `json:"emergency_name"`
	EmergencyPhone string `json:"emergency_phone"`
	ScheduledTime  string `json:"scheduled_time"`
	Immediate      bool   `json:"immediate"`
}

// ---------------------------------------------------------------------------------//
// Auth handlers
// --------------------------------------------------------------------------------//

func createUserHandler(rw http.ResponseWriter, r *http.Request) {
	data := models.User{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	errs := validate.StructPartial(data, "Email", "Password")
	if errs != nil {
		writeResponse(rw, ResponsePayload{Error: validationErrorMsg(errs)}, http.StatusBadRequest)
		return
	}

	err = models.CreateUser(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusCreated)
}

func logInHandler(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]string)
	json.NewDecoder(r.Body).Decode(&data)

	passwordHash, err := models.FindUserPassword(data["email"])
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	if !auth.CheckPasswordHash(data["password"], passwordHash) {
		writeResponse(rw, ResponsePayload{Error: "email/password is invalid"}, http.StatusUnauthorized)
		return
	}

	if authKeyPair == nil {
		writeResponse(rw, ResponsePayload{Error: "session provider not configured"}, http.StatusInternalServerError)
		return
	}

	user, err := models.FindUserBy("email", data["email"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	_, accessToken, err := newAccessToken(user)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	refreshToken, refreshTokenHash, err := auth.GenerateRefreshToken()
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	err = models.CreateSession(user.ID, refreshTokenHash, time.Now().Add(REFRESH_TOKEN_TTL))
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	setSessionCookie(rw, ACCESS_TOKEN_COOKIE, accessToken, time.Now().Add(ACCESS_TOKEN_TTL))
	setSessionCookie(rw, REFRESH_TOKEN_COOKIE, refreshToken, time.Now().Add(REFRESH_TOKEN_TTL))

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]string{"token": accessToken}}, http.StatusOK)
}

func logOutHandler(rw http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(REFRESH_TOKEN_COOKIE); err == nil && cookie.Value != "" {
		err := models.DeleteSessionByTokenHash(auth.HashRefreshToken(cookie.Value))
		if err != nil {
			logg.Errorf("logOutHandler: %v", err)
		}
	}

	clearSessionCookies(rw)
	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func jwksHandler(rw http.ResponseWriter, r *http.Request) {
	if authKeyPair == nil {
		writeResponse(rw, ResponsePayload{Error: "no signing key configured"}, http.StatusNotFound)
		return
	}

	keyPairJWK, err := authKeyPair.JWK()
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(key.ExportJWKAsJWKS(keyPairJWK))
}

func healthCheckHandler(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// User handlers
// --------------------------------------------------------------------------------//

func findUserHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: user}, http.StatusOK)
}

func updateUserHandler(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]interface{})

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"email": true, "password": true})
	if len(data) <= 0 {
		writeResponse(rw, ResponsePayload{Error: "valid fields required"}, http.StatusBadRequest)
		return
	}

	if data["password"] != nil && strings.TrimSpace(fmt.Sprintf("%v", data["password"])) == "" {
		writeResponse(rw, ResponsePayload{Error: "password cannot be empty"}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.Update(data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func deleteUserHandler(rw http.ResponseWriter, r *http.Request) {
	err := models.DeleteUser(mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Profile handlers
// --------------------------------------------------------------------------------//

func createProfileHandler(rw http.ResponseWriter, r *http.Request) {
	profile := models.UserProfile{}

	err := json.NewDecoder(r.Body).Decode(&profile)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(profile)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Error: validationErrorMsg(errs)}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.CreateProfile(&profile)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: profile}, http.StatusCreated)
}

func findProfileHandler(rw http.ResponseWriter, r *http.Request) {
	profile, err := models.FindProfile(mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: profile}, http.StatusOK)
}

func updateProfileHandler(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]interface{})

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"first_name": true, "phone_number": true, "safe_word": true})
	if len(data) <= 0 {
		writeResponse(rw, ResponsePayload{Error: "valid fields required"}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.UpdateProfile(data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Safety contact handlers
// --------------------------------------------------------------------------------//

func createContactHandler(rw http.ResponseWriter, r *http.Request) {
	contact := models.SafetyContact{}

	err := json.NewDecoder(r.Body).Decode(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(contact)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Error: validationErrorMsg(errs)}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.AddContact(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusCreated)
}

func findContactsHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.LoadContacts()
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: user.Contacts}, http.StatusOK)
}

func updateContactHandler(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]interface{})

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"name": true, "phone_number": true, "relationship": true})
	if len(data) <= 0 {
		writeResponse(rw, ResponsePayload{Error: "valid fields required"}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.UpdateContact(mux.Vars(r)["id"], data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func deleteContactHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.DeleteContact(mux.Vars(r)["id"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func makePrimaryContactHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.MakePrimaryContact(mux.Vars(r)["id"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Scheduled call handlers
// --------------------------------------------------------------------------------//

func createScheduledCallHandler(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]string)
	json.NewDecoder(r.Body).Decode(&data)

	scheduledAt, err := time.Parse(time.RFC3339, data["scheduled_time"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: "valid scheduled_time required"}, http.StatusBadRequest)
		return
	}

	if !scheduledAt.After(time.Now()) {
		writeResponse(rw, ResponsePayload{Error: "scheduled_time must be in the future"}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	call, err := user.ScheduleCall(scheduledAt)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: call}, http.StatusCreated)
}

func findScheduledCallsHandler(rw http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.PENDING_CALL
	}

	if !models.CallStatusNameMap[status] {
		writeResponse(rw, ResponsePayload{Error: "invalid status"}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	calls, paging, err := user.FetchCalls(status, 1)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: map[string]interface{}{"calls": calls, "paging": paging}}, http.StatusOK)
}

func cancelScheduledCallHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	err = user.CancelCall(mux.Vars(r)["id"])
	if err != nil {
		notFoundOr500(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Call trigger relay
// --------------------------------------------------------------------------------//

// triggerCallHandler forwards a check-in call request to the
// call-automation webhook. A single best-effort forward per invocation.
func triggerCallHandler(rw http.ResponseWriter, r *http.Request) {
	params := TriggerCallParams{}

	err := json.NewDecoder(r.Body).Decode(&params)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(params.Phone) == "" {
		writeResponse(rw, ResponsePayload{Error: "phone number required"}, http.StatusBadRequest)
		return
	}

	err = relayClient.Trigger(relay.Payload{
		Phone:          params.Phone,
		Name:           params.Name,
		CodeWord:       params.CodeWord,
		EmergencyName:  params.EmergencyName,
		EmergencyPhone: params.EmergencyPhone,
		ScheduledTime:  params.ScheduledTime,
		Immediate:      params.Immediate,
	})

	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		writeResponse(rw, ResponsePayload{
			Error:   "failed to trigger call",
			Details: fmt.Sprintf("upstream returned %v: %v", relayErr.StatusCode, relayErr.Body),
		}, http.StatusInternalServerError)
		return
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{
			Error:   "failed to trigger call",
			Details: err.Error(),
		}, http.StatusInternalServerError)
		return
	}

	// Log the immediate call. The relay already succeeded, so a failed
	// log write is reported in logs but doesn't fail the request.
	if params.Immediate {
		user, err := currentUser(r)
		if err == nil {
			_, err = user.LogCompletedCall()
		}
		if err != nil {
			logg.Errorf("triggerCallHandler: unable to log completed call: %v", err)
		}
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Webhook & admin handlers
// --------------------------------------------------------------------------------//

// callStatusWebhookHandler is the out-of-band path for the
// call-automation system to report call outcomes, transitioning
// pending calls to completed.
func callStatusWebhookHandler(rw http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	if twilioClient != nil &&
		!twilioClient.ValidateRequest(r.URL.Path, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		writeResponse(rw, ResponsePayload{Error: "invalid signature"}, http.StatusUnauthorized)
		return
	}

	callID := r.PostForm.Get("call_id")
	if callID == "" {
		writeResponse(rw, ResponsePayload{Error: "call_id required"}, http.StatusBadRequest)
		return
	}

	completed, err := models.CompleteCall(callID)
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]bool{"transitioned": completed}}, http.StatusOK)
}

func findJobsHandler(rw http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var jobs []models.Job
	var paging *models.Paging
	var err error

	if status != "" && !models.JobStatusNameMap[status] {
		writeResponse(rw, ResponsePayload{Error: "invalid status"}, http.StatusBadRequest)
		return
	}

	if status == "" {
		jobs, paging, err = models.FetchJobs(1)
	} else {
		jobs, paging, err = models.FetchJobsByStatus(status, 1)
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	stats, err := models.CurrentJobsStats()
	if err != nil {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{
		Data: map[string]interface{}{"jobs": jobs, "paging": paging, "stats": stats},
	}, http.StatusOK)
}
