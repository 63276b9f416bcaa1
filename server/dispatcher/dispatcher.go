package dispatcher

import (
	"errors"
	"fmt"

	"time"

	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/relay"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/utils"
	"gorm.io/gorm"
)

const (
	DISPATCH_DUE_CALLS_HANDLER    = "dispatch_due_calls"
	DEFAULT_DISPATCH_SWEEP_CRON   = "*/1 * * * *"
	DISPATCH_DUE_CALLS_JOB_NAME   = "dispatch_due_calls"
	ESCALATION_MESSAGE_TEMPLATE   = "Hi %v, we couldn't start the scheduled safety check-in call for %v. Can you reach out to make sure they're okay?"
	ANONYMOUS_ESCALATION_TEMPLATE = "Hi %v, we couldn't start a scheduled safety check-in call for someone who lists you as their emergency contact. Can you reach out to make sure they're okay?"
)

var logg = logger.NewLogger()

// CallDispatcher periodically finds scheduled check-in calls that are
// due, relays each to the call-automation webhook & marks it completed.
// When the relay fails, the call stays pending for the next sweep and
// the user's primary contact is notified by SMS.
type CallDispatcher struct {
	workerPool   *work.WorkerPoolAdapter
	relayClient  *relay.Client
	twilioClient *twilio.ClientWrapper
	sweepCronExp string
}

func NewCallDispatcher(
	workerPool *work.WorkerPoolAdapter,
	relayClient *relay.Client,
	twilioClient *twilio.ClientWrapper,
	sweepCronExp string,
) (*CallDispatcher, error) {
	if sweepCronExp == "" {
		sweepCronExp = DEFAULT_DISPATCH_SWEEP_CRON
	}

	dispatcher := CallDispatcher{
		workerPool:   workerPool,
		relayClient:  relayClient,
		twilioClient: twilioClient,
		sweepCronExp: sweepCronExp,
	}

	err := workerPool.Register(DISPATCH_DUE_CALLS_HANDLER, dispatcher.dispatchDueCalls)
	if err != nil {
		return nil, err
	}

	return &dispatcher, nil
}

// ScheduleSweeps enqueues the periodic due-call sweep on the worker pool.
func (d *CallDispatcher) ScheduleSweeps() error {
	return d.workerPool.PeriodicallyPerform(d.sweepCronExp, work.JobParams{
		Name:    DISPATCH_DUE_CALLS_JOB_NAME,
		Handler: DISPATCH_DUE_CALLS_HANDLER,
		Unique:  true,
		Args:    map[string]interface{}{},
	})
}

// DispatchDueCalls runs one sweep immediately. Exposed for tests &
// the initial sweep on server start.
func (d *CallDispatcher) DispatchDueCalls() error {
	return d.dispatchDueCalls(map[string]interface{}{})
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (d *CallDispatcher) dispatchDueCalls(map[string]interface{}) error {
	calls, err := models.DueCalls(time.Now())
	if err != nil {
		return fmt.Errorf("dispatchDueCalls: %v", err)
	}

	dispatched := 0
	for _, call := range calls {
		err := d.dispatch(call)
		if err != nil {
			logg.Errorf("dispatchDueCalls: call id=%v: %v", call.ID, err)
			continue
		}
		dispatched++
	}

	if len(calls) > 0 {
		logg.Infof("%v due call(s) found, %v dispatched", len(calls), dispatched)
	}

	return nil
}

func (d *CallDispatcher) dispatch(call models.ScheduledCall) error {
	user, err := models.FindUserBy("id", call.UserID)
	if err != nil {
		return err
	}

	profile, err := models.FindProfile(user.ID)
	if err != nil {
		return err
	}

	primaryContact, err := user.PrimaryContactIfAny()
	if err != nil {
		return err
	}

	payload := relay.Payload{
		Phone:         profile.PhoneNumber,
		Name:          profile.FirstName,
		CodeWord:      profile.SafeWord,
		ScheduledTime: utils.ToISO8601(call.ScheduledAt),
	}
	if primaryContact != nil {
		payload.EmergencyName = primaryContact.Name
		payload.EmergencyPhone = primaryContact.PhoneNumber
	}

	err = d.relayClient.Trigger(payload)
	if err != nil {
		// Leave the call pending so the next sweep retries it, but give
		// the primary contact a heads up right away.
		d.notifyPrimaryContact(profile, primaryContact)
		return err
	}

	_, err = models.CompleteCall(call.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}

	return err
}

func (d *CallDispatcher) notifyPrimaryContact(profile *models.UserProfile, contact *models.SafetyContact) {
	if contact == nil {
		return
	}

	var msg string
	if profile != nil {
		msg = fmt.Sprintf(ESCALATION_MESSAGE_TEMPLATE, contact.Name, profile.FirstName)
	} else {
		msg = fmt.Sprintf(ANONYMOUS_ESCALATION_TEMPLATE, contact.Name)
	}

	err := d.twilioClient.SendMessage(contact.PhoneNumber, msg)
	if err != nil {
		logg.Errorf("notifyPrimaryContact: %v", err)
	}
}
