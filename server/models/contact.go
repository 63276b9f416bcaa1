package models

import (
	"errors"

	"gorm.io/gorm"
)

var updatableContactFields = []string{"name", "phone_number", "relationship"}

type SafetyContact struct {
	BaseModel
	Name         string `json:"name" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"required,e164" gorm:"not null"`
	Relationship string `json:"relationship"`
	IsPrimary    bool   `json:"is_primary"`
	UserID       uint   `json:"user_id" gorm:"not null"`
}

// AddContact saves a new safety contact for the user. The user's first
// contact becomes the primary one.
func (user *User) AddContact(contact *SafetyContact) error {
	contact.UserID = user.ID

	var count int64
	err := db.Model(&SafetyContact{}).Where("user_id = ?", user.ID).Count(&count).Error
	if err != nil {
		return err
	}
	contact.IsPrimary = count == 0

	return db.Create(contact).Error
}

func (user *User) LoadContacts() error {
	return db.Order("is_primary desc").Limit(500).
		Find(&user.Contacts, "user_id = ?", user.ID).Error
}

func (user *User) UpdateContact(contactID string, data map[string]interface{}) error {
	return db.Model(&SafetyContact{}).Where("id = ? AND user_id = ?", contactID, user.ID).
		Select(updatableContactFields).Updates(data).Error
}

func (user *User) DeleteContact(id interface{}) error {
	return db.Where("user_id = ?", user.ID).Delete(&SafetyContact{}, id).Error
}

// MakePrimaryContact flags the given contact as the user's primary one.
// The clear & set run in one transaction, so at no point can a user end
// up with zero or two primaries.
func (user *User) MakePrimaryContact(contactID interface{}) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SafetyContact{}).
			Where("id = ? AND user_id = ?", contactID, user.ID).
			Update("is_primary", true)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&SafetyContact{}).
			Where("user_id = ? AND id != ?", user.ID, contactID).
			Update("is_primary", false).Error
	})
}

func (user *User) PrimaryContact() (*SafetyContact, error) {
	contact := SafetyContact{}

	err := db.Where("user_id = ? AND is_primary = true", user.ID).First(&contact).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

// PrimaryContactIfAny is PrimaryContact with 'no contact' mapped to nil
// instead of an error.
func (user *User) PrimaryContactIfAny() (*SafetyContact, error) {
	contact, err := user.PrimaryContact()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	return contact, err
}
