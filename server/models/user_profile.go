package models

import (
	"errors"

	"gorm.io/gorm"
)

var updatableProfileFields = []string{"first_name", "phone_number", "safe_word"}

// UserProfile holds the onboarding data for an account. The unique index
// on UserID keeps it to at most one profile per user.
type UserProfile struct {
	BaseModel
	UserID      uint   `json:"user_id" gorm:"not null;unique"`
	FirstName   string `json:"first_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,e164" gorm:"not null"`
	SafeWord    string `json:"safe_word" validate:"required"`
}

func (user *User) CreateProfile(profile *UserProfile) error {
	profile.UserID = user.ID
	return db.Create(profile).Error
}

func (user *User) UpdateProfile(data map[string]interface{}) error {
	return db.Model(&UserProfile{}).Where("user_id = ?", user.ID).
		Select(updatableProfileFields).Updates(data).Error
}

func FindProfile(userID interface{}) (*UserProfile, error) {
	profile := UserProfile{}
	err := db.First(&profile, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

// HasProfile reports whether the user completed onboarding. A lookup
// failure is returned as-is, so callers can tell 'no profile' apart
// from 'could not check'.
func HasProfile(userID interface{}) (bool, error) {
	err := db.Select("id").First(&UserProfile{}, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
