package models

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Report statuses walked by moderation.
const (
	ReportStatusNew      = "new"
	ReportStatusReviewed = "reviewed"
)

// Report is an abuse report filed by one member of a pairing against
// the other. Filing a report does not end the session; the reporter
// decides that separately.
type Report struct {
	gorm.Model

	ReporterID string `gorm:"type:text;not null;index"`
	ReportedID string `gorm:"type:text;not null;index"`
	PairingID  string `gorm:"type:text;index"`
	Reason     string `gorm:"type:text;not null"`
	Details    string `gorm:"type:text"`
	// MessageIDs captures the ids of the most recent chat messages in
	// the pairing at filing time, so moderation can pull the exchange.
	MessageIDs pq.StringArray `gorm:"type:text[]"`
	Status     string         `gorm:"type:text;not null;index"`
}
