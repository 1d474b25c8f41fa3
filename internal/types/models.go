package types

import "time"

// Job is one pipeline invocation created by the cron-triggered initiator.
//
// Once JobStatus reaches a terminal value, every stage status is frozen
// except ReportStatus, which may still advance PENDING -> {COMPLETED,FAILED}.
type Job struct {
	ID                  string      `gorm:"column:id;primaryKey;size:36"`
	JobStatus           JobStatus   `gorm:"column:job_status;not null"`
	ImageExportStatus   StageStatus `gorm:"column:image_export_status;not null;default:PENDING"`
	StatsExportStatus   StageStatus `gorm:"column:stats_export_status;not null;default:PENDING"`
	WebsiteUpdateStatus StageStatus `gorm:"column:website_update_status;not null;default:PENDING"`
	ReportStatus        StageStatus `gorm:"column:report_status;not null;default:PENDING"`
	Error               *string     `gorm:"column:error"`
	Timezone            string      `gorm:"column:timezone;not null;default:UTC"`
	CreatedAt           time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time   `gorm:"column:updated_at;not null"`

	Exports          []Export          `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	UpstreamSnapshots []UpstreamSnapshot `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	Reports          []Report          `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	WebsiteUpdates   []WebsiteUpdate   `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	FileTransfers    []FileTransfer    `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (Job) TableName() string { return "jobs" }

// AppendError appends a new diagnostic to Job.Error, pipe-delimited,
// preserving duplicates (spec: "duplicates are preserved").
func (j *Job) AppendError(msg string) {
	if msg == "" {
		return
	}
	if j.Error == nil || *j.Error == "" {
		j.Error = &msg
		return
	}
	joined := *j.Error + " | " + msg
	j.Error = &joined
}

// Export is one remote-task handle owned by one Job.
type Export struct {
	ID              string       `gorm:"column:id;primaryKey;size:36"`
	JobID           string       `gorm:"column:job_id;not null;index:idx_exports_job_id"`
	State           ExportState  `gorm:"column:state;not null;index:idx_exports_due,priority:1"`
	Type            ExportType   `gorm:"column:type;not null"`
	Name            string       `gorm:"column:name;not null"`
	Target          ExportTarget `gorm:"column:target;not null"`
	Path            string       `gorm:"column:path;not null"`
	TaskID          *string      `gorm:"column:task_id"`
	TaskStatus      string       `gorm:"column:task_status;not null"`
	Error           *string      `gorm:"column:error"`
	NextCheckAt     time.Time    `gorm:"column:next_check_at;not null;index:idx_exports_due,priority:2"`
	LeaseUntil      *time.Time   `gorm:"column:lease_until;index:idx_exports_lease"`
	PollIntervalSec int          `gorm:"column:poll_interval_sec;not null;default:15"`
	Attempts        int          `gorm:"column:attempts;not null;default:0"`
	DeadlineAt      *time.Time   `gorm:"column:deadline_at"`
	CreatedAt       time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time    `gorm:"column:updated_at;not null"`
}

func (Export) TableName() string { return "exports" }

// UpstreamSnapshot captures (collection_name, image_count, last_image_key)
// for one upstream collection at Job-creation time. Purely diagnostic.
type UpstreamSnapshot struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	JobID      string    `gorm:"column:job_id;not null;index:idx_modis_job_id"`
	Name       string    `gorm:"column:name;not null"`
	Collection string    `gorm:"column:collection;not null"`
	Images     int       `gorm:"column:images;not null"`
	LastImage  string    `gorm:"column:last_image;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (UpstreamSnapshot) TableName() string { return "modis" }

// Report is the per-Job notification record. At most one per Job.
type Report struct {
	ID        int64        `gorm:"column:id;primaryKey;autoIncrement"`
	JobID     string       `gorm:"column:job_id;not null;index:idx_reports_job_id"`
	Status    ReportStatus `gorm:"column:status;not null"`
	Attempts  int          `gorm:"column:attempts;not null;default:0"`
	LastError *string      `gorm:"column:last_error"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt time.Time    `gorm:"column:updated_at;not null"`
}

func (Report) TableName() string { return "reports" }

// WebsiteUpdate is the per-Job website publication record. At most one per Job.
type WebsiteUpdate struct {
	ID              int64               `gorm:"column:id;primaryKey;autoIncrement"`
	JobID           string              `gorm:"column:job_id;not null;index:idx_websites_job_id"`
	Status          WebsiteUpdateStatus `gorm:"column:status;not null;default:PENDING"`
	PullRequestID   *string             `gorm:"column:pull_request_id"`
	PullRequestURL  *string             `gorm:"column:pull_request_url"`
	Attempts        int                 `gorm:"column:attempts;not null;default:0"`
	LastError       *string             `gorm:"column:last_error"`
	CreatedAt       time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;not null"`
}

func (WebsiteUpdate) TableName() string { return "website_updates" }

// FileTransfer is the pre-publication archive record for a single table
// output. Exists for every non-image Export whose stage worker completed
// the pre-move scan (spec §3).
type FileTransfer struct {
	ID              int64              `gorm:"column:id;primaryKey;autoIncrement"`
	JobID           string             `gorm:"column:job_id;not null;index:idx_file_transfers_job_id"`
	ExportID        string             `gorm:"column:export_id;not null;index:idx_file_transfers_export_id"`
	SourcePath      string             `gorm:"column:source_path;not null"`
	DestinationPath string             `gorm:"column:destination_path;not null"`
	Status          FileTransferStatus `gorm:"column:status;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;not null"`
}

func (FileTransfer) TableName() string { return "file_transfers" }
