package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrDuplicateJob = errors.New("job with the given name already exists in queue")

type Job struct {
	BaseModel
	Fails       int        `json:"fails"`
	Name        string     `json:"name"`
	Handler     string     `json:"handler"`
	Args        string     `json:"args"`
	LastError   string     `json:"last_error"`
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	JobStatusID uint       `json:"job_status_id"`
	JobStatus   *JobStatus `json:"status"`
}

// MarkAsClaimed claims the job for a worker & reports whether this
// worker won the claim.
func (job *Job) MarkAsClaimed() (bool, error) {
	inProgressStatus, err := FindJobStatus(IN_PROGRESS_JOB)
	if err != nil {
		return false, err
	}

	res := db.Model(&Job{}).Where("id = ? AND claimed = ?", job.ID, false).Updates(map[string]interface{}{
		"claimed":       true,
		"job_status_id": inProgressStatus.ID,
	})

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (job *Job) Update(data map[string]interface{}) error {
	return db.Model(job).Updates(data).Error
}

// CreateUniqueJobByName enqueues a job unless one with the same name is
// already enqueued or in-progress.
func CreateUniqueJobByName(name string, handler string, args string) error {
	return createJobByName(name, handler, args, time.Now(), true)
}

// CreateJobByName enqueues a job with no uniqueness constraint.
func CreateJobByName(name string, handler string, args string) error {
	return createJobByName(name, handler, args, time.Now(), false)
}

// CreateScheduledJobByName creates a job to be moved into the enqueued
// queue once 'enqueueAt' has passed.
func CreateScheduledJobByName(name string, handler string, args string, enqueueAt time.Time) error {
	scheduledStatus, err := FindJobStatus(SCHEDULED_JOB)
	if err != nil {
		return err
	}

	return db.Create(&Job{
		Name:        name,
		Handler:     handler,
		Args:        args,
		EnqueuedAt:  enqueueAt,
		JobStatusID: scheduledStatus.ID,
	}).Error
}

func LastJob(status string, claimed bool) (*Job, error) {
	job := Job{}
	err := db.Joins("INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ? AND claimed = ? ",
		status, claimed).Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// FirstScheduledJobToBeQueued returns the oldest scheduled job whose
// enqueue time has passed.
func FirstScheduledJobToBeQueued() (*Job, error) {
	job := Job{}
	err := db.Preload("JobStatus").
		Joins("INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?", SCHEDULED_JOB).
		Where("enqueued_at <= ?", time.Now()).First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func FetchJobsByStatus(status string, page int) ([]Job, *Paging, error) {
	const JOIN_QUERY = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"

	var total int64
	jobs := []Job{}

	err := db.Joins(JOIN_QUERY, status).Model(&Job{}).Count(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").
		Joins(JOIN_QUERY, status).Find(&jobs).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return jobs, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func FetchJobs(page int) ([]Job, *Paging, error) {
	var total int64
	jobs := []Job{}

	err := db.Model(&Job{}).Count(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").Find(&jobs).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return jobs, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func CurrentJobsStats() (*JobsStats, error) {
	const JOIN_QUERY = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"
	stats := JobsStats{}

	counts := []struct {
		status string
		count  *int64
	}{
		{ENQUEUED_JOB, &stats.EnqueuedJobCount},
		{IN_PROGRESS_JOB, &stats.InProgressJobCount},
		{SUCCESSFUL_JOB, &stats.SuccessfulJobCount},
		{DEAD_JOB, &stats.DeadJobCount},
	}

	for _, c := range counts {
		err := db.Joins(JOIN_QUERY, c.status).Model(&Job{}).Count(c.count).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return &stats, nil
}

// LastJobLastUpdated returns the last job of 'status' which was last
// updated at least 'minutesAgo' minutes ago.
//
// WARNING: THIS QUERY IS UNIQUE TO SQLITE, REMEMBER TO UPDATE IT IF/WHEN
// OTHER SQL DATABASES ARE SUPPORTED
func LastJobLastUpdated(minutesAgo uint, status string) (*Job, error) {
	jobStatus, err := FindJobStatus(status)
	if err != nil {
		return nil, err
	}

	job := Job{}
	err = db.Where(
		fmt.Sprintf("job_status_id = ? AND datetime(updated_at, '+%v minute') <= datetime('now')", minutesAgo),
		jobStatus.ID,
	).Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func createJobByName(name, handler, args string, enqueueAt time.Time, unique bool) error {
	enqueuedStatus, err := FindJobStatus(ENQUEUED_JOB)
	if err != nil {
		return err
	}

	if unique {
		inProgressStatus, err := FindJobStatus(IN_PROGRESS_JOB)
		if err != nil {
			return err
		}

		results := db.Where("name = ? AND job_status_id IN ?",
			name, []uint{enqueuedStatus.ID, inProgressStatus.ID}).First(&Job{})
		if results.Error != nil && !errors.Is(results.Error, gorm.ErrRecordNotFound) {
			return results.Error
		}

		if results.RowsAffected > 0 {
			return ErrDuplicateJob
		}
	}

	return db.Create(&Job{
		Name:        name,
		Handler:     handler,
		Args:        args,
		EnqueuedAt:  enqueueAt,
		JobStatusID: enqueuedStatus.ID,
	}).Error
}
