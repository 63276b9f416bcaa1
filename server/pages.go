package server

import (
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/Daskott/guardian/server/models"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// SAFE_WORD_OPTIONS are the code words a user can pick from during
// onboarding. The check-in call asks for this word to verify the user
// is safe.
var SAFE_WORD_OPTIONS = []string{
	"Pineapple", "Umbrella", "Butterfly", "Sunshine",
	"Coconut", "Rainbow", "Starfish", "Lavender",
}

func renderPage(rw http.ResponseWriter, name string, data interface{}) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(rw, name, data); err != nil {
		logg.Errorf("renderPage %v: %v", name, err)
	}
}

func rootPageHandler(rw http.ResponseWriter, r *http.Request) {
	http.Redirect(rw, r, "/dashboard", http.StatusSeeOther)
}

func loginPageHandler(rw http.ResponseWriter, r *http.Request) {
	renderPage(rw, "login.html", nil)
}

func onboardingPageHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		http.Redirect(rw, r, "/login", http.StatusSeeOther)
		return
	}

	renderPage(rw, "onboarding.html", map[string]interface{}{
		"UserID":          user.ID,
		"SafeWordOptions": SAFE_WORD_OPTIONS,
	})
}

func dashboardPageHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		http.Redirect(rw, r, "/login", http.StatusSeeOther)
		return
	}

	profile, err := models.FindProfile(user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Redirect(rw, r, "/onboarding", http.StatusSeeOther)
		return
	}

	// Only a confirmed missing profile should send the user back to
	// onboarding. A lookup failure gets a 500 instead.
	if err != nil {
		logg.Errorf("dashboardPageHandler: %v", err)
		http.Error(rw, "Something went wrong, please try again later", http.StatusInternalServerError)
		return
	}

	pendingCalls, _, err := user.FetchCalls(models.PENDING_CALL, 1)
	if err != nil {
		logg.Errorf("dashboardPageHandler: %v", err)
	}

	stats, err := models.CurrentCallStats(user.ID)
	if err != nil {
		logg.Errorf("dashboardPageHandler: %v", err)
	}

	primaryContact, err := user.PrimaryContactIfAny()
	if err != nil {
		logg.Errorf("dashboardPageHandler: %v", err)
	}

	renderPage(rw, "dashboard.html", map[string]interface{}{
		"UserID":         user.ID,
		"Profile":        profile,
		"PendingCalls":   pendingCalls,
		"Stats":          stats,
		"PrimaryContact": primaryContact,
	})
}

func contactsPageHandler(rw http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		http.Redirect(rw, r, "/login", http.StatusSeeOther)
		return
	}

	if err := user.LoadContacts(); err != nil {
		logg.Errorf("contactsPageHandler: %v", err)
	}

	renderPage(rw, "contacts.html", map[string]interface{}{
		"UserID":   user.ID,
		"Contacts": user.Contacts,
	})
}
