package audit

import "time"

const (
	ActionDatabaseExport  = "database.export"
	ActionDatabaseImport  = "database.import"
	ActionDatabaseRestart = "database.restart"

	ActionUserCreate    = "user.create"
	ActionUserRoleGrant = "user.role-grant"

	ActionSessionIssue  = "session.issue"
	ActionSessionRevoke = "session.revoke"
)

var AllActionTypes = []string{
	ActionDatabaseExport,
	ActionDatabaseImport,
	ActionDatabaseRestart,
	ActionUserCreate,
	ActionUserRoleGrant,
	ActionSessionIssue,
	ActionSessionRevoke,
}

type Event struct {
	Timestamp  time.Time
	Action     string
	TargetType string
	TargetID   string
	Result     string
	Actor      string
	Details    any
}

type Filter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

type RecordedEvent struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor,omitempty"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type,omitempty"`
	TargetID    string    `json:"target_id,omitempty"`
	Result      string    `json:"result"`
	DetailsJSON string    `json:"details"`
	PrevHash    string    `json:"prev_hash"`
	EventHash   string    `json:"event_hash"`
}

type VerifyResult struct {
	Valid      bool   `json:"valid"`
	EventCount int    `json:"event_count"`
	ChainTip   string `json:"chain_tip"`
	Error      string `json:"error,omitempty"`
}
