// Package schedulestore implements C5 ScheduleStore: CRUD for
// BackupSchedule records, day/time validation, nextRun computation, and
// enable/disable toggling. All mutating calls are bound by
// tenancy.Predicates.IsAdmin.
package schedulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
)

// timePattern matches "HH:MM" per spec.md §3's
// ^([01]?\d|2[0-3]):[0-5]\d$ invariant.
var timePattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Spec is the caller-supplied shape for creating or updating a schedule.
// Days are weekday integers 0 (Sunday) through 6; Times are "HH:MM"
// strings; Collections empty means "all non-system".
type Spec struct {
	ConnectionID      uuid.UUID
	DatabaseName      string
	Collections       []string
	DestinationType   string
	DestinationConfig map[string]any
	Days              []int
	Times             []string
	Timezone          string
	RetentionCount    int
}

// Store is C5 ScheduleStore.
type Store struct {
	schedules repository.ScheduleRepository
	logs      repository.BackupLogRepository
	pred      *tenancy.Predicates

	// defaultRetentionCount is spec.md §6.5's defaultRetentionCount,
	// substituted when Spec.RetentionCount is zero.
	defaultRetentionCount int
}

// New constructs a Store.
func New(schedules repository.ScheduleRepository, logs repository.BackupLogRepository, pred *tenancy.Predicates, defaultRetentionCount int) *Store {
	return &Store{schedules: schedules, logs: logs, pred: pred, defaultRetentionCount: defaultRetentionCount}
}

func validate(s Spec) error {
	if s.ConnectionID == uuid.Nil {
		return fmt.Errorf("%w: connectionId is required", apperr.ValidationError)
	}
	if s.DatabaseName == "" {
		return fmt.Errorf("%w: databaseName is required", apperr.ValidationError)
	}
	if len(s.Days) == 0 {
		return fmt.Errorf("%w: days must not be empty", apperr.ValidationError)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day %d out of range 0..6", apperr.ValidationError, d)
		}
	}
	if len(s.Times) == 0 {
		return fmt.Errorf("%w: times must not be empty", apperr.ValidationError)
	}
	for _, t := range s.Times {
		if !timePattern.MatchString(t) {
			return fmt.Errorf("%w: time %q does not match HH:MM", apperr.ValidationError, t)
		}
	}
	if s.RetentionCount < 0 {
		return fmt.Errorf("%w: retentionCount must be >= 1", apperr.ValidationError)
	}
	return nil
}

func (s *Store) requireAdmin(ctx context.Context, userID, orgID uuid.UUID) error {
	ok, err := s.pred.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return fmt.Errorf("schedulestore: checking admin permission: %w", err)
	}
	if !ok {
		return apperr.PermissionDenied
	}
	return nil
}

// Create validates spec and inserts a new BackupSchedule, computing its
// initial nextRun.
func (s *Store) Create(ctx context.Context, userID, orgID uuid.UUID, spec Spec) (*db.BackupSchedule, error) {
	if err := s.requireAdmin(ctx, userID, orgID); err != nil {
		return nil, err
	}
	if spec.Timezone == "" {
		spec.Timezone = "UTC"
	}
	if spec.RetentionCount == 0 {
		spec.RetentionCount = s.defaultRetentionCount
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(spec.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", apperr.ValidationError, spec.Timezone)
	}

	collectionsJSON, _ := json.Marshal(spec.Collections)
	destConfigJSON, _ := json.Marshal(spec.DestinationConfig)
	daysJSON, _ := json.Marshal(spec.Days)
	timesJSON, _ := json.Marshal(spec.Times)

	schedule := &db.BackupSchedule{
		OrganizationID:    orgID,
		ConnectionID:      spec.ConnectionID,
		DatabaseName:      spec.DatabaseName,
		Collections:       string(collectionsJSON),
		DestinationType:   spec.DestinationType,
		DestinationConfig: string(destConfigJSON),
		Days:              string(daysJSON),
		Times:             string(timesJSON),
		Timezone:          spec.Timezone,
		RetentionCount:    spec.RetentionCount,
		Enabled:           true,
		CreatedBy:         userID,
	}
	next := NextRun(time.Now().In(loc), spec.Days, spec.Times, loc)
	schedule.NextRunAt = &next

	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, fmt.Errorf("schedulestore: creating schedule: %w", err)
	}
	return schedule, nil
}

// Update applies a new Spec to an existing schedule, recomputing nextRun if
// the schedule is currently enabled. The organizationId may never change.
func (s *Store) Update(ctx context.Context, userID, orgID, scheduleID uuid.UUID, spec Spec) (*db.BackupSchedule, error) {
	if err := s.requireAdmin(ctx, userID, orgID); err != nil {
		return nil, err
	}
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound(err)
	}
	if schedule.OrganizationID != orgID {
		return nil, apperr.NotFound
	}
	if spec.Timezone == "" {
		spec.Timezone = schedule.Timezone
	}
	if spec.RetentionCount == 0 {
		spec.RetentionCount = schedule.RetentionCount
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(spec.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", apperr.ValidationError, spec.Timezone)
	}

	collectionsJSON, _ := json.Marshal(spec.Collections)
	destConfigJSON, _ := json.Marshal(spec.DestinationConfig)
	daysJSON, _ := json.Marshal(spec.Days)
	timesJSON, _ := json.Marshal(spec.Times)

	schedule.ConnectionID = spec.ConnectionID
	schedule.DatabaseName = spec.DatabaseName
	schedule.Collections = string(collectionsJSON)
	schedule.DestinationType = spec.DestinationType
	schedule.DestinationConfig = string(destConfigJSON)
	schedule.Days = string(daysJSON)
	schedule.Times = string(timesJSON)
	schedule.Timezone = spec.Timezone
	schedule.RetentionCount = spec.RetentionCount

	if schedule.Enabled {
		next := NextRun(time.Now().In(loc), spec.Days, spec.Times, loc)
		schedule.NextRunAt = &next
	}

	if err := s.schedules.Update(ctx, schedule); err != nil {
		return nil, fmt.Errorf("schedulestore: updating schedule: %w", err)
	}
	return schedule, nil
}

// SetEnabled toggles a schedule's enabled state, recomputing nextRun on
// enable and clearing it on disable.
func (s *Store) SetEnabled(ctx context.Context, userID, orgID, scheduleID uuid.UUID, enabled bool) (*db.BackupSchedule, error) {
	if err := s.requireAdmin(ctx, userID, orgID); err != nil {
		return nil, err
	}
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound(err)
	}
	if schedule.OrganizationID != orgID {
		return nil, apperr.NotFound
	}

	schedule.Enabled = enabled
	if enabled {
		days, times, loc, err := decode(schedule)
		if err != nil {
			return nil, err
		}
		next := NextRun(time.Now().In(loc), days, times, loc)
		schedule.NextRunAt = &next
	} else {
		schedule.NextRunAt = nil
	}

	if err := s.schedules.Update(ctx, schedule); err != nil {
		return nil, fmt.Errorf("schedulestore: toggling schedule: %w", err)
	}
	return schedule, nil
}

// Delete removes a schedule. ScheduleRepository.Delete removes the
// schedule's BackupLogs in the same transaction.
func (s *Store) Delete(ctx context.Context, userID, orgID, scheduleID uuid.UUID) error {
	if err := s.requireAdmin(ctx, userID, orgID); err != nil {
		return err
	}
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return notFound(err)
	}
	if schedule.OrganizationID != orgID {
		return apperr.NotFound
	}
	if err := s.schedules.Delete(ctx, scheduleID); err != nil {
		return fmt.Errorf("schedulestore: deleting schedule: %w", err)
	}
	return nil
}

// ScheduleWithLastRun is a schedule joined with its most recent BackupLog,
// per spec.md §4.5's list-endpoint shape.
type ScheduleWithLastRun struct {
	Schedule db.BackupSchedule
	LastRun  *LastRun
}

// LastRun summarizes the most recent execution of a schedule.
type LastRun struct {
	StartedAt time.Time
	Status    string
}

// List returns every schedule visible to userID in orgID (any member may
// list; only admins may mutate), each joined with its most recent
// BackupLog for display.
func (s *Store) List(ctx context.Context, userID, orgID uuid.UUID) ([]ScheduleWithLastRun, error) {
	member, err := s.pred.IsMember(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperr.PermissionDenied
	}

	schedules, err := s.schedules.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("schedulestore: listing schedules: %w", err)
	}

	ids := make([]uuid.UUID, len(schedules))
	for i, sc := range schedules {
		ids[i] = sc.ID
	}
	lastRuns, err := s.logs.MostRecentByScheduleIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("schedulestore: loading last runs: %w", err)
	}

	out := make([]ScheduleWithLastRun, 0, len(schedules))
	for _, sc := range schedules {
		item := ScheduleWithLastRun{Schedule: sc}
		if log, ok := lastRuns[sc.ID]; ok {
			item.LastRun = &LastRun{StartedAt: log.StartedAt, Status: log.Status}
		}
		out = append(out, item)
	}
	return out, nil
}

// Get returns a single schedule visible to userID.
func (s *Store) Get(ctx context.Context, userID, orgID, scheduleID uuid.UUID) (*db.BackupSchedule, error) {
	member, err := s.pred.IsMember(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperr.PermissionDenied
	}
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, notFound(err)
	}
	if schedule.OrganizationID != orgID {
		return nil, apperr.NotFound
	}
	return schedule, nil
}

func decode(schedule *db.BackupSchedule) ([]int, []string, *time.Location, error) {
	var days []int
	var times []string
	if err := json.Unmarshal([]byte(schedule.Days), &days); err != nil {
		return nil, nil, nil, fmt.Errorf("schedulestore: decoding days: %w", err)
	}
	if err := json.Unmarshal([]byte(schedule.Times), &times); err != nil {
		return nil, nil, nil, fmt.Errorf("schedulestore: decoding times: %w", err)
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return days, times, loc, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: schedule", apperr.NotFound)
	}
	return fmt.Errorf("schedulestore: %w", err)
}

// NextRun computes the earliest instant, strictly after now (which must
// already be in loc), at which one of (days, times) next falls — per
// spec.md §4.5's "recomputes nextRun as the earliest upcoming (day, time)
// in the schedule's timezone greater than now". Scans up to 8 days ahead
// (today plus one full week) to guarantee a hit even if every weekday is
// scheduled.
func NextRun(now time.Time, days []int, times []string, loc *time.Location) time.Time {
	sortedTimes := append([]string(nil), times...)
	sort.Strings(sortedTimes)

	daySet := make(map[int]bool, len(days))
	for _, d := range days {
		daySet[d] = true
	}

	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	for offset := 0; offset < 8; offset++ {
		day := startOfToday.AddDate(0, 0, offset)
		if !daySet[int(day.Weekday())] {
			continue
		}
		for _, t := range sortedTimes {
			hh, mm := splitHHMM(t)
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)
			if candidate.After(now) {
				return candidate
			}
		}
	}
	// Unreachable in practice since days is validated non-empty and the
	// loop covers a full week, but return a safe far-future fallback
	// rather than a zero time.
	return now.AddDate(0, 0, 8)
}

func splitHHMM(t string) (int, int) {
	var hh, mm int
	fmt.Sscanf(t, "%d:%d", &hh, &mm)
	return hh, mm
}
