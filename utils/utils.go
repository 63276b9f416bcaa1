package utils

import (
	"log"
	"os"
	"time"
)

func FileExist(filePath string) bool {
	var err error

	if _, err = os.Stat(filePath); os.IsNotExist(err) {
		return false
	}

	if err != nil {
		log.Panic(err)
	}

	return true
}

func CreateDirIfNotExist(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}

	return nil
}

// ToISO8601 formats t the way the call-automation webhook expects timestamps
func ToISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
