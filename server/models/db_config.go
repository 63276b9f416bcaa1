package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/utils"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "guardian.db"

var logg = logger.NewLogger()
var db *gorm.DB

// AutoMigrate auto-migrates the db schema and inserts seed data
func AutoMigrate(passPhrase string, dbRootDir string) error {
	err := openDB(dbDSN(passPhrase, dbRootDir))
	if err != nil {
		return err
	}

	return migrateAndSeed()
}

// InitializeTestDb points the models package at a shared in-memory
// sqlite db, for use in package tests.
func InitializeTestDb() {
	err := openDB("file::memory:?cache=shared&_pragma_key=test")
	if err != nil {
		log.Panic(err)
	}

	// Start each test run from a clean slate
	for _, table := range []string{
		"sessions", "scheduled_calls", "safety_contacts",
		"user_profiles", "users", "jobs",
	} {
		db.Exec(fmt.Sprintf("DELETE FROM %v", table))
	}

	err = migrateAndSeed()
	if err != nil {
		log.Panic(err)
	}
}

// DbFilePath returns the path of the sqlite db file under dbRootDir
func DbFilePath(dbRootDir string) (string, error) {
	dbDir, err := DbDirectory(dbRootDir)
	if err != nil {
		return "", err
	}

	return filepath.Join(dbDir, DB_NAME), nil
}

func DbDirectory(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return dbDir, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func openDB(dbDSNVal string) error {
	var err error

	db, err = gorm.Open(sqliteEncrypt.Open(dbDSNVal), &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	return nil
}

func migrateAndSeed() error {
	err := db.AutoMigrate(
		&CallStatus{}, &JobStatus{}, &Job{},
		&Role{}, &User{}, &UserProfile{},
		&SafetyContact{}, &ScheduledCall{}, &Session{},
	)
	if err != nil {
		return err
	}

	populateDBWithSeedData()

	return nil
}

func populateDBWithSeedData() {
	if err := db.First(&CallStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'CallStatus'")
		db.Create(&[]CallStatus{{Name: PENDING_CALL}, {Name: COMPLETED_CALL}, {Name: CANCELLED_CALL}})
	}

	if err := db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'JobStatus'")
		db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB},
			{Name: SUCCESSFUL_JOB}, {Name: DEAD_JOB}, {Name: SCHEDULED_JOB},
		})
	}

	if err := db.First(&Role{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'Role'")
		db.Create(&[]Role{{Name: ADMIN_USER_ROLE}, {Name: BASIC_USER_ROLE}})
	}
}

func dbDSN(passPhrase string, dbRootDir string) string {
	dbFilePath, err := DbFilePath(dbRootDir)
	if err != nil {
		log.Panic(err)
	}

	return fmt.Sprintf(
		"file:%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbFilePath,
		passPhrase,
	)
}
