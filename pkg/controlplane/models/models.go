// Package models holds the persisted control plane entities of a member:
// users of the password backend and the admission audit trail.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&AdmissionEvent{},
	}
}
