package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/guardian/server/auth"
	"github.com/Daskott/guardian/server/auth/key"
	"github.com/Daskott/guardian/server/dispatcher"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/relay"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
)

type RequestContextKey string

type DecodedJWT struct {
	Claims   *auth.GuardianTokenClaims
	ErrorMsg string
}

var (
	logg     = logger.NewLogger()
	validate = validator.New()

	appConfig    *shared.ServerConfig
	appConfigDir string

	authKeyPair    *key.KeyPair
	relayClient    *relay.Client
	twilioClient   *twilio.ClientWrapper
	workerPool     *work.WorkerPoolAdapter
	callDispatcher *dispatcher.CallDispatcher
)

func init() {
	fatalOnError(RegisterValidators(validate))
}

// Start wires up the app's components & starts the guardian server
func Start(config *viper.Viper, devMode bool) {
	var err error

	appConfig = parseServerConfig(config)
	appConfigDir = configDirectory(devMode)

	if sqliteBackupEnabled() {
		if err := restoreSqliteDbIfMissing(); err != nil {
			logg.Warnf("Unable to restore sqlite db from backup: %v", err)
		}
	}

	fatalOnError(models.AutoMigrate(appConfig.Sqlite.PassPhrase, appConfigDir))

	if appConfig.Guardian.PrivateKeyPem != "" {
		authKeyPair, err = key.NewKeyPairFromRSAPrivateKeyPem(appConfig.Guardian.PrivateKeyPem)
		fatalOnError(err)
	} else {
		// Deliberate fail-open: without a signing key the route guard
		// passes all page traffic through instead of blocking it.
		logg.Warn("No privateKeyPem configured - sessions are disabled & page routes are unguarded")
	}

	relayClient = relay.NewClient(appConfig.Webhook.CallURL)
	twilioClient = twilio.NewClient(appConfig.Twilio, appConfig.Guardian.AppURL, devMode)
	workerPool = work.NewWorkerAdapter(appConfig.Guardian.Cron.TimeZone)

	callDispatcher, err = dispatcher.NewCallDispatcher(
		workerPool, relayClient, twilioClient, appConfig.Webhook.DispatchSchedule)
	fatalOnError(err)

	registerJobHandlers(workerPool)
	enqueueJobs(workerPool)
	fatalOnError(callDispatcher.ScheduleSweeps())
	workerPool.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%v", appConfig.Guardian.Listener.Port),
		Handler:      router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go serve(server)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cleanup(workerPool, server, sqliteBackupEnabled())
}

func router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/jwks", jwksHandler).Methods("GET")
	router.HandleFunc("/webhooks/call-status", callStatusWebhookHandler).Methods("POST")

	// Server-rendered pages, behind the session/onboarding route guard
	pageRouter := router.NewRoute().Subrouter()
	pageRouter.Use(routeGuardMiddleware)
	pageRouter.HandleFunc("/", rootPageHandler).Methods("GET")
	pageRouter.HandleFunc("/login", loginPageHandler).Methods("GET")
	pageRouter.HandleFunc("/onboarding", onboardingPageHandler).Methods("GET")
	pageRouter.HandleFunc("/dashboard", dashboardPageHandler).Methods("GET")
	pageRouter.HandleFunc("/contacts", contactsPageHandler).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(initialContextMiddleware)

	apiRouter.HandleFunc("/login", logInHandler).Methods("POST")
	apiRouter.HandleFunc("/logout", logOutHandler).Methods("POST")

	adminRouter := apiRouter.NewRoute().Subrouter()
	adminRouter.Use(adminRouteMiddleware)
	adminRouter.HandleFunc("/users", createUserHandler).Methods("POST")
	adminRouter.HandleFunc("/jobs", findJobsHandler).Methods("GET")

	protectedRouter := apiRouter.NewRoute().Subrouter()
	protectedRouter.Use(protectedRouteMiddleware)
	protectedRouter.HandleFunc("/trigger-call", triggerCallHandler).Methods("POST")

	protectedRouter.HandleFunc("/users/{uid}", findUserHandler).Methods("GET")
	protectedRouter.HandleFunc("/users/{uid}", updateUserHandler).Methods("PUT")
	protectedRouter.HandleFunc("/users/{uid}", deleteUserHandler).Methods("DELETE")

	protectedRouter.HandleFunc("/users/{uid}/profile", createProfileHandler).Methods("POST")
	protectedRouter.HandleFunc("/users/{uid}/profile", findProfileHandler).Methods("GET")
	protectedRouter.HandleFunc("/users/{uid}/profile", updateProfileHandler).Methods("PUT")

	protectedRouter.HandleFunc("/users/{uid}/contacts", createContactHandler).Methods("POST")
	protectedRouter.HandleFunc("/users/{uid}/contacts", findContactsHandler).Methods("GET")
	protectedRouter.HandleFunc("/users/{uid}/contacts/{id}", updateContactHandler).Methods("PUT")
	protectedRouter.HandleFunc("/users/{uid}/contacts/{id}", deleteContactHandler).Methods("DELETE")
	protectedRouter.HandleFunc("/users/{uid}/contacts/{id}/primary", makePrimaryContactHandler).Methods("PUT")

	protectedRouter.HandleFunc("/users/{uid}/calls", createScheduledCallHandler).Methods("POST")
	protectedRouter.HandleFunc("/users/{uid}/calls", findScheduledCallsHandler).Methods("GET")
	protectedRouter.HandleFunc("/users/{uid}/calls/{id}/cancel", cancelScheduledCallHandler).Methods("PUT")

	return router
}

func sqliteBackupEnabled() bool {
	if appConfig == nil {
		return false
	}

	enabled, ok := appConfig.Google.Storage.EnableSqliteBackupAndSync.(bool)
	return ok && enabled
}
