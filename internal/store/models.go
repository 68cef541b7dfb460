package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Report struct {
	ID           string
	Title        string
	Description  string
	Category     string
	Severity     string
	Status       string
	Address      string
	Latitude     float64
	Longitude    float64
	ProjectID    *string
	ReporterID   string
	ReporterName string
	VoteCount    int
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ReportComment struct {
	ID         string
	ReportID   string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	Area        string
	Status      string
	CreatedBy   string
	ReportCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Notification struct {
	ID        int64
	UserID    string
	Kind      string
	ReportID  string
	Message   string
	CreatedAt time.Time
}

type ReportPhoto struct {
	ID          string
	ReportID    string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

// ReportFilter narrows ListReports. Zero fields are ignored.
type ReportFilter struct {
	Status     string
	Category   string
	ProjectID  string
	ReporterID string
	Limit      int
}
