/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Request and response shapes for the action endpoint and the REST mirrors.
  Field names follow the JSON the dashboard already consumes (snake_case,
  before_xp / after_xp, etc.).

CONVERSION:
  Domain results (backfill.Projection, backfill.CommitResult, ...) are
  converted with the to*DTO helpers at the bottom of this file. Handlers
  never encode domain structs directly.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - backfill/results.go: domain result types
*/
package api

import (
	"time"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/backfill"
	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ActionRequest is the body of POST /api/xp-backfill.
type ActionRequest struct {
	Action string `json:"action"`
	UserID string `json:"user_id,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`

	// award_xp
	EventType  string         `json:"event_type,omitempty"`
	EventValue int            `json:"event_value,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Actions accepted by the action endpoint.
const (
	ActionBackfillXP       = "backfill_xp"
	ActionBackfillAllUsers = "backfill_all_users"
	ActionRollback         = "rollback_backfill"
	ActionReport           = "get_backfill_report"
	ActionAwardXP          = "award_xp"
	ActionUserStats        = "get_user_stats"
)

// AwardRequest is the body of POST /api/users/{id}/xp.
type AwardRequest struct {
	EventType  string         `json:"event_type"`
	EventValue int            `json:"event_value"`
	SourceID   string         `json:"source_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// BACKFILL RESPONSES
// =============================================================================

type ActivitiesDTO struct {
	Flashcards      int `json:"flashcards"`
	StudySessions   int `json:"study_sessions"`
	Notes           int `json:"notes"`
	Goals           int `json:"goals"`
	ReadingSessions int `json:"reading_sessions"`
	FileUploads     int `json:"file_uploads"`
}

// DryRunDTO is a backfill_xp response with dry_run set.
type DryRunDTO struct {
	DryRun              bool          `json:"dry_run"`
	UserID              string        `json:"user_id"`
	BeforeXP            int           `json:"before_xp"`
	ProjectedAfterXP    int           `json:"projected_after_xp"`
	BeforeLevel         int           `json:"before_level"`
	ProjectedAfterLevel int           `json:"projected_after_level"`
	EventsToCreate      int           `json:"events_to_create"`
	BackfillXP          int           `json:"backfill_xp"`
	ActivitiesFound     ActivitiesDTO `json:"activities_found"`
}

// CommitDTO is a backfill_xp response for a real run.
type CommitDTO struct {
	DryRun              bool          `json:"dry_run"`
	UserID              string        `json:"user_id"`
	BeforeXP            int           `json:"before_xp"`
	AfterXP             int           `json:"after_xp"`
	BeforeLevel         int           `json:"before_level"`
	AfterLevel          int           `json:"after_level"`
	EventsCreated       int           `json:"events_created"`
	BadgesAwarded       []string      `json:"badges_awarded"`
	ActivitiesProcessed ActivitiesDTO `json:"activities_processed"`
}

// UserResultDTO is one row of a bulk summary. Exactly one of Result and
// Error is set. Partial accompanies Error when the run wrote events before
// failing.
type UserResultDTO struct {
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	Attempts int        `json:"attempts"`
	Result   any        `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
	Partial  *CommitDTO `json:"partial,omitempty"`
}

type BulkSummaryDTO struct {
	DryRun             bool            `json:"dry_run"`
	UsersProcessed     int             `json:"users_processed"`
	UsersSucceeded     int             `json:"users_succeeded"`
	UsersFailed        int             `json:"users_failed"`
	TotalXPAwarded     int             `json:"total_xp_awarded"`
	TotalEventsCreated int             `json:"total_events_created"`
	TotalBadgesAwarded int             `json:"total_badges_awarded"`
	Results            []UserResultDTO `json:"results"`
}

type RollbackDTO struct {
	UserID        string `json:"user_id"`
	EventsDeleted int    `json:"events_deleted"`
	NewTotalXP    int    `json:"new_total_xp"`
	NewLevel      int    `json:"new_level"`
	Message       string `json:"message"`
}

type EventDTO struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	EventValue int            `json:"event_value"`
	SourceID   string         `json:"source_id,omitempty"`
	Origin     string         `json:"origin"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

type ReportDTO struct {
	UserID         string     `json:"user_id"`
	CurrentXP      int        `json:"current_xp"`
	CurrentLevel   int        `json:"current_level"`
	NextLevelXP    int        `json:"next_level_xp"`
	TotalEvents    int        `json:"total_events"`
	BackfillEvents int        `json:"backfill_events"`
	RegularEvents  int        `json:"regular_events"`
	BackfillXP     int        `json:"backfill_xp"`
	RegularXP      int        `json:"regular_xp"`
	BadgesEarned   int        `json:"badges_earned"`
	RecentEvents   []EventDTO `json:"recent_events"`
}

// =============================================================================
// XP RESPONSES
// =============================================================================

type BadgeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	XPReward    int    `json:"xp_reward"`
	AwardedAt   string `json:"awarded_at,omitempty"`
}

type AwardDTO struct {
	Success       bool       `json:"success"`
	XPAwarded     int        `json:"xp_awarded"`
	EventsCreated int        `json:"events_created"`
	TotalXP       int        `json:"total_xp"`
	Level         int        `json:"level"`
	XPToNext      int        `json:"xp_to_next"`
	LeveledUp     bool       `json:"leveled_up"`
	NewBadges     []BadgeDTO `json:"new_badges"`
}

type UserXPDTO struct {
	UserID      string `json:"user_id"`
	TotalXP     int    `json:"total_xp"`
	Level       int    `json:"level"`
	NextLevelXP int    `json:"next_level_xp"`
}

type StatsDTO struct {
	XP     UserXPDTO  `json:"xp"`
	Badges []BadgeDTO `json:"badges"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Users       []string `json:"users"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toActivitiesDTO(c activity.Counts) ActivitiesDTO {
	return ActivitiesDTO{
		Flashcards:      c.Flashcards,
		StudySessions:   c.StudySessions,
		Notes:           c.Notes,
		Goals:           c.Goals,
		ReadingSessions: c.ReadingSessions,
		FileUploads:     c.FileUploads,
	}
}

func toDryRunDTO(p *backfill.Projection) DryRunDTO {
	return DryRunDTO{
		DryRun:              true,
		UserID:              string(p.UserID),
		BeforeXP:            p.BeforeXP,
		ProjectedAfterXP:    p.ProjectedXP,
		BeforeLevel:         p.BeforeLevel,
		ProjectedAfterLevel: p.ProjectedLevel,
		EventsToCreate:      p.EventsToCreate,
		BackfillXP:          p.BackfillXP,
		ActivitiesFound:     toActivitiesDTO(p.Activities),
	}
}

func toCommitDTO(c *backfill.CommitResult) CommitDTO {
	badges := c.BadgesAwarded
	if badges == nil {
		badges = []string{}
	}
	return CommitDTO{
		UserID:              string(c.UserID),
		BeforeXP:            c.BeforeXP,
		AfterXP:             c.AfterXP,
		BeforeLevel:         c.BeforeLevel,
		AfterLevel:          c.AfterLevel,
		EventsCreated:       c.EventsCreated,
		BadgesAwarded:       badges,
		ActivitiesProcessed: toActivitiesDTO(c.Activities),
	}
}

// toOutcomeDTO returns a DryRunDTO or a CommitDTO.
func toOutcomeDTO(o *backfill.Outcome) any {
	if o.Projection != nil {
		return toDryRunDTO(o.Projection)
	}
	return toCommitDTO(o.Commit)
}

func toBulkSummaryDTO(s *backfill.BatchSummary) BulkSummaryDTO {
	dto := BulkSummaryDTO{
		DryRun:             s.DryRun,
		UsersProcessed:     s.UsersProcessed,
		UsersSucceeded:     s.UsersSucceeded,
		UsersFailed:        s.UsersFailed,
		TotalXPAwarded:     s.TotalXPAwarded,
		TotalEventsCreated: s.TotalEvents,
		TotalBadgesAwarded: s.TotalBadges,
		Results:            make([]UserResultDTO, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		row := UserResultDTO{UserID: string(r.UserID), Status: string(r.Status), Attempts: r.Attempts}
		if r.Status == backfill.StatusSucceeded {
			row.Result = toOutcomeDTO(r.Outcome)
		} else if r.Err != nil {
			row.Error = r.Err.Error()
		}
		if r.Partial != nil {
			partial := toCommitDTO(r.Partial)
			row.Partial = &partial
		}
		dto.Results = append(dto.Results, row)
	}
	return dto
}

func toEventDTO(e xp.LedgerEvent) EventDTO {
	return EventDTO{
		ID:         e.ID,
		EventType:  string(e.Type),
		EventValue: e.Value,
		SourceID:   e.SourceID,
		Origin:     string(e.Origin),
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func toReportDTO(r *backfill.Report) ReportDTO {
	events := make([]EventDTO, len(r.RecentEvents))
	for i, e := range r.RecentEvents {
		events[i] = toEventDTO(e)
	}
	return ReportDTO{
		UserID:         string(r.UserID),
		CurrentXP:      r.CurrentXP,
		CurrentLevel:   r.CurrentLevel,
		NextLevelXP:    r.NextLevelXP,
		TotalEvents:    r.TotalEvents,
		BackfillEvents: r.BackfillEvents,
		RegularEvents:  r.OrganicEvents,
		BackfillXP:     r.BackfillXP,
		RegularXP:      r.OrganicXP,
		BadgesEarned:   r.BadgesEarned,
		RecentEvents:   events,
	}
}

func toAwardDTO(a *backfill.AwardResult) AwardDTO {
	badges := make([]BadgeDTO, len(a.NewBadges))
	for i, b := range a.NewBadges {
		badges[i] = BadgeDTO{ID: b.ID, Name: b.Name, Description: b.Description, XPReward: b.XPReward}
	}
	return AwardDTO{
		Success:       true,
		XPAwarded:     a.XPAwarded,
		EventsCreated: a.EventsCreated,
		TotalXP:       a.Aggregate.TotalXP,
		Level:         a.Aggregate.Level,
		XPToNext:      a.Aggregate.NextLevelXP - a.Aggregate.TotalXP,
		LeveledUp:     a.LeveledUp,
		NewBadges:     badges,
	}
}

func toStatsDTO(s *backfill.Stats) StatsDTO {
	badges := make([]BadgeDTO, len(s.Badges))
	for i, h := range s.Badges {
		badges[i] = BadgeDTO{
			ID:          h.Badge.ID,
			Name:        h.Badge.Name,
			Description: h.Badge.Description,
			XPReward:    h.Badge.XPReward,
			AwardedAt:   h.AwardedAt.Format(time.RFC3339),
		}
	}
	return StatsDTO{
		XP: UserXPDTO{
			UserID:      string(s.Aggregate.UserID),
			TotalXP:     s.Aggregate.TotalXP,
			Level:       s.Aggregate.Level,
			NextLevelXP: s.Aggregate.NextLevelXP,
		},
		Badges: badges,
	}
}
