package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Daskott/guardian/server/auth"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/shared"
	"github.com/Daskott/guardian/utils"
	"github.com/go-playground/validator"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

const (
	ACCESS_TOKEN_COOKIE  = "guardian_session"
	REFRESH_TOKEN_COOKIE = "guardian_refresh"

	ACCESS_TOKEN_TTL  = 15 * time.Minute
	REFRESH_TOKEN_TTL = 30 * 24 * time.Hour
)

type ResponsePayload struct {
	Success bool        `json:"success,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details string      `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------------//
// Handler helper functions
// --------------------------------------------------------------------------------//

func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(payLoad.Error, " ", payLoad.Details)
	} else if statusCode >= http.StatusBadRequest {
		logg.Info(payLoad.Error)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payLoad)
}

func removeUnknownFields(args map[string]interface{}, validFields map[string]bool) {
	for key := range args {
		if !validFields[key] {
			delete(args, key)
		}
	}
}

func validationErrorMsg(errs error) string {
	return strings.Join(strings.Split(errs.Error(), "\n"), "; ")
}

func RegisterValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		err := validate.Var(fl.Field().String(), "contains= ")
		if err == nil {
			return false
		}
		return len(fl.Field().String()) > 0
	})
}

// ---------------------------------------------------------------------------------//
// Session helper functions
// --------------------------------------------------------------------------------//

// decodeAuthCredentials resolves the caller's session from the
// Authorization header or session cookies. An expired/missing access
// token is re-minted from a valid refresh cookie, with the refreshed
// cookie propagated on the response.
func decodeAuthCredentials(rw http.ResponseWriter, r *http.Request) DecodedJWT {
	if authKeyPair == nil {
		return DecodedJWT{ErrorMsg: "session provider not configured"}
	}

	tokenString := bearerToken(r)
	if tokenString == "" {
		if cookie, err := r.Cookie(ACCESS_TOKEN_COOKIE); err == nil {
			tokenString = cookie.Value
		}
	}

	if tokenString != "" {
		tokenClaims, err := auth.DecodeJWT(tokenString, authKeyPair)
		if err == nil {
			// validate that the user account still exists
			if _, err = models.FindUserBy("id", tokenClaims.Subject); err == nil {
				return DecodedJWT{Claims: tokenClaims}
			}
		}
	}

	if refreshed := refreshSession(rw, r); refreshed != nil {
		return DecodedJWT{Claims: refreshed}
	}

	if tokenString == "" {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	return DecodedJWT{ErrorMsg: "invalid token provided"}
}

func refreshSession(rw http.ResponseWriter, r *http.Request) *auth.GuardianTokenClaims {
	cookie, err := r.Cookie(REFRESH_TOKEN_COOKIE)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := models.FindSessionByTokenHash(auth.HashRefreshToken(cookie.Value))
	if err != nil {
		return nil
	}

	user, err := models.FindUserBy("id", session.UserID)
	if err != nil {
		return nil
	}

	claims, accessToken, err := newAccessToken(user)
	if err != nil {
		logg.Errorf("refreshSession: %v", err)
		return nil
	}

	setSessionCookie(rw, ACCESS_TOKEN_COOKIE, accessToken, time.Now().Add(ACCESS_TOKEN_TTL))
	return claims
}

func newAccessToken(user *models.User) (*auth.GuardianTokenClaims, string, error) {
	isAdmin, err := user.IsAdmin()
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	claims := auth.GuardianTokenClaims{
		IsAdmin: isAdmin,
		StandardClaims: jwt.StandardClaims{
			Subject:   fmt.Sprint(user.ID),
			Issuer:    "guardian",
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ACCESS_TOKEN_TTL).Unix(),
		},
	}

	accessToken, err := auth.EncodeJWT(claims, authKeyPair)
	if err != nil {
		return nil, "", err
	}

	return &claims, accessToken, nil
}

func setSessionCookie(rw http.ResponseWriter, name, value string, expiresAt time.Time) {
	http.SetCookie(rw, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookies(rw http.ResponseWriter) {
	for _, name := range []string{ACCESS_TOKEN_COOKIE, REFRESH_TOKEN_COOKIE} {
		http.SetCookie(rw, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeaderList := strings.Split(r.Header.Get("Authorization"), "Bearer ")
	if len(authHeaderList) < 2 {
		return ""
	}

	return strings.TrimSpace(authHeaderList[1])
}

func currentUser(r *http.Request) (*models.User, error) {
	decodedJWT, ok := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
	if !ok || decodedJWT.Claims == nil {
		return nil, errors.New("no session in request context")
	}

	return models.FindUserBy("id", decodedJWT.Claims.Subject)
}

// ---------------------------------------------------------------------------------//
// Middleware helper functions
// --------------------------------------------------------------------------------//

// client is only able to update/view their own record unless client is an admin
// who can GET/DELETE certain user resources
func canAccessUserResource(r *http.Request, userClaims *auth.GuardianTokenClaims) bool {
	allowedMethodsForAdmins := map[string]bool{"GET": true, "DELETE": true}
	deniedPathsForAdmin := []string{"/contacts", "/calls", "/profile"}

	if mux.Vars(r)["uid"] == "" || mux.Vars(r)["uid"] == userClaims.Subject {
		return true
	}

	if !userClaims.IsAdmin {
		return false
	}

	if !allowedMethodsForAdmins[r.Method] {
		return false
	}

	for _, deniedPath := range deniedPathsForAdmin {
		if strings.Contains(r.URL.Path, deniedPath) {
			return false
		}
	}

	return true
}

func notFoundOr500(rw http.ResponseWriter, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusNotFound)
		return
	}

	writeResponse(rw, ResponsePayload{Error: err.Error()}, http.StatusInternalServerError)
}

// ---------------------------------------------------------------------------------//
// Server helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("Guardian server is listening on %v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(workerPool *work.WorkerPoolAdapter, server *http.Server, backupDb bool) {
	// Stop periodic jobs i.e. call dispatch sweeps & regular server jobs
	workerPool.Stop()

	if backupDb {
		if err := backupSqliteDb(nil); err != nil {
			logg.Error(err)
		}
	}

	// Shutdown server gracefully
	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("Guardian server shutdown failed:%+s", err)
	}

	logg.Infof("Guardian server stopped properly")
}

func parseServerConfig(config *viper.Viper) *shared.ServerConfig {
	serverConfig := shared.ServerConfig{}

	fatalOnError(config.Unmarshal(&serverConfig))

	err := validate.Struct(serverConfig)
	if err != nil {
		logg.Fatalf("invalid server config: %v", validationErrorMsg(err))
	}

	return &serverConfig
}

// configDirectory retrieves the directory to store guardian configs
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'guardian' folder in home directory for prod
	configFolderName := "guardian"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
