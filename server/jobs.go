package server

import (
	"github.com/Daskott/guardian/server/gstorage"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/utils"
)

const (
	BACKUP_SQLITE_DB_HANDLER       = "backupSqliteDb"
	PRUNE_EXPIRED_SESSIONS_HANDLER = "pruneExpiredSessions"

	SESSION_PRUNE_CRON_EXP = "0 * * * *"
)

// backupSqliteDb uploads the current sqlite db file to the configured
// google storage bucket.
func backupSqliteDb(map[string]interface{}) error {
	gs, err := gstorage.NewGStorage(
		appConfig.Google.ApplicationCredentials, appConfig.Google.Storage.Prefix)
	if err != nil {
		return err
	}

	dbFilePath, err := models.DbFilePath(appConfigDir)
	if err != nil {
		return err
	}

	return gs.UploadFile(appConfig.Google.Storage.Bucket, dbFilePath)
}

// restoreSqliteDbIfMissing pulls the last db backup from the bucket
// when no local db file exists yet, e.g. after the host is replaced.
func restoreSqliteDbIfMissing() error {
	dbFilePath, err := models.DbFilePath(appConfigDir)
	if err != nil {
		return err
	}

	if utils.FileExist(dbFilePath) {
		return nil
	}

	gs, err := gstorage.NewGStorage(
		appConfig.Google.ApplicationCredentials, appConfig.Google.Storage.Prefix)
	if err != nil {
		return err
	}

	err = gs.DownloadFile(appConfig.Google.Storage.Bucket, models.DB_NAME, dbFilePath)
	if err == gstorage.ErrObjectNotExist {
		return nil
	}

	return err
}

func pruneExpiredSessions(map[string]interface{}) error {
	return models.DeleteExpiredSessions()
}

func registerJobHandlers(wpa *work.WorkerPoolAdapter) {
	wpa.Register(BACKUP_SQLITE_DB_HANDLER, backupSqliteDb)
	wpa.Register(PRUNE_EXPIRED_SESSIONS_HANDLER, pruneExpiredSessions)
}

func enqueueJobs(wpa *work.WorkerPoolAdapter) {
	if sqliteBackupEnabled() {
		wpa.PeriodicallyPerform(appConfig.Google.Storage.SqliteBackupSchedule, work.JobParams{
			Name:    BACKUP_SQLITE_DB_HANDLER,
			Handler: BACKUP_SQLITE_DB_HANDLER,
			Args:    map[string]interface{}{},
		})
	}

	wpa.PeriodicallyPerform(SESSION_PRUNE_CRON_EXP, work.JobParams{
		Name:    PRUNE_EXPIRED_SESSIONS_HANDLER,
		Handler: PRUNE_EXPIRED_SESSIONS_HANDLER,
		Args:    map[string]interface{}{},
	})
}
