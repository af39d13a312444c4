package models

import "time"

// AdmissionEvent records the outcome of one admission attempt.
type AdmissionEvent struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ConnID     uint64    `gorm:"index" json:"conn_id"`
	RemoteAddr string    `gorm:"size:255" json:"remote_addr"`
	Mechanism  string    `gorm:"size:32" json:"mechanism"`
	Principal  string    `gorm:"size:255" json:"principal,omitempty"`
	Outcome    string    `gorm:"size:32;index" json:"outcome"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the table name for AdmissionEvent.
func (AdmissionEvent) TableName() string {
	return "admission_events"
}
