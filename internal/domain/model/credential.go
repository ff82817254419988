package model

import "time"

// Credential is a persisted session credential record. Records are append-only:
// a newer record supersedes older ones, which are kept as history.
type Credential struct {
	ID        int64
	Value     string
	CreatedAt time.Time
}
