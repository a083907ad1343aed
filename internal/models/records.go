package models

import "time"

// Event statuses carried over from the legacy workbook.
const (
	EventDraft     = "draft"
	EventApproved  = "approved"
	EventCancelled = "cancelled"
)

// User is a migrated account row. Email is the natural key used by the
// upsert loaders, so re-running a migration step never duplicates rows.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Formation is a training course definition. Code is the natural key.
type Formation struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	WorkloadHours int       `json:"workload_hours"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Event is a scheduled occurrence of a formation. Code is the natural key;
// only approved events are pushed to the external calendar.
type Event struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	FormationCode string    `json:"formation_code"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
