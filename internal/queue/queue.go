// Package queue is the server's durable job queue: the published-game
// ingest pipeline's in-flight jobs, persisted so GET /processes/data
// reflects reality across restarts. Grounded on the teacher's db
// package (a raw pgx.Conn wrapped in package-level query helpers),
// generalized into an owned gorm.DB-backed store per the spec's "no
// module-level singletons" guidance — processes.json becomes a table
// instead of a flat file, reusing gorm/postgres the way the teacher's
// stack already pulls them in.
package queue

import (
	"gorm.io/gorm"

	"gamevault/pkg/apierrors"
)

// Entry is one queued or in-flight ingest job, matching the spec's
// processes.json record shape: {id, download, process, download_url}.
type Entry struct {
	ID          string  `gorm:"primaryKey" json:"id"`
	Download    float64 `json:"download"`
	Process     float64 `json:"process"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// Queue is the owned job-queue store.
type Queue struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Queue, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, apierrors.Storage("migrate process queue table", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue records a new ingest job, replacing any prior entry with the
// same id.
func (q *Queue) Enqueue(id, downloadURL string) error {
	entry := Entry{ID: id, DownloadURL: downloadURL}
	if err := q.db.Save(&entry).Error; err != nil {
		return apierrors.Storage("enqueue process", err)
	}
	return nil
}

// SetDownloadProgress updates a job's download fraction.
func (q *Queue) SetDownloadProgress(id string, frac float64) error {
	if err := q.db.Model(&Entry{}).Where("id = ?", id).Update("download", frac).Error; err != nil {
		return apierrors.Storage("update process download progress", err)
	}
	return nil
}

// SetProcessProgress updates a job's process fraction.
func (q *Queue) SetProcessProgress(id string, frac float64) error {
	if err := q.db.Model(&Entry{}).Where("id = ?", id).Update("process", frac).Error; err != nil {
		return apierrors.Storage("update process progress", err)
	}
	return nil
}

// Remove drops a job from the queue, e.g. once ingest finalizes.
func (q *Queue) Remove(id string) error {
	if err := q.db.Where("id = ?", id).Delete(&Entry{}).Error; err != nil {
		return apierrors.Storage("remove process entry", err)
	}
	return nil
}

// Snapshot returns every queued job, for GET /processes/data.
func (q *Queue) Snapshot() ([]Entry, error) {
	var entries []Entry
	if err := q.db.Find(&entries).Error; err != nil {
		return nil, apierrors.Storage("list process queue", err)
	}
	return entries, nil
}
