package models

import (
	"time"
)

// Session is a refresh-token record. Only the sha256 hash of the token
// is stored.
type Session struct {
	BaseModel
	UserID    uint      `json:"user_id" gorm:"not null"`
	TokenHash string    `json:"-" gorm:"not null;unique"`
	ExpiresAt time.Time `json:"expires_at"`
}

func CreateSession(userID uint, tokenHash string, expiresAt time.Time) error {
	return db.Create(&Session{UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}).Error
}

// FindSessionByTokenHash returns the unexpired session matching the hash.
func FindSessionByTokenHash(tokenHash string) (*Session, error) {
	session := Session{}
	err := db.Where("token_hash = ? AND expires_at > ?", tokenHash, time.Now()).
		First(&session).Error
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func DeleteSessionByTokenHash(tokenHash string) error {
	return db.Where("token_hash = ?", tokenHash).Delete(&Session{}).Error
}

func DeleteExpiredSessions() error {
	return db.Where("expires_at <= ?", time.Now()).Delete(&Session{}).Error
}
