// Package evaluator implements C6 ScheduleEvaluator: a pure,
// discrete-minute schedule matcher. DueNow is deterministic given its
// inputs — the only state it consults is the execution history passed to
// it via LogReader, never a clock or database handle of its own — so
// calling it twice with the same (now, schedules, history) yields an
// identical result (spec.md §8 property 1).
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

// LogReader is the minimal view of BackupLog history the evaluator needs:
// every terminal (success or error) execution of a schedule since a given
// instant. internal/repository.BackupLogRepository.ListTerminalByScheduleSince
// satisfies this directly.
type LogReader interface {
	ListTerminalByScheduleSince(ctx context.Context, scheduleID uuid.UUID, since time.Time) ([]db.BackupLog, error)
}

// decodedSchedule is a BackupSchedule with its JSON-encoded Days/Times
// fields parsed once, matching spec.md §9's guidance to model times as
// integers in [0, 1440) rather than wall-clock strings once loaded.
type decodedSchedule struct {
	id       uuid.UUID
	days     map[int]bool
	minutes  []int // sorted ascending, minutes-of-day for each scheduled time
	loc      *time.Location
}

// Evaluator wraps LogReader and a logger; DueNow is its sole operation.
type Evaluator struct {
	logs   LogReader
	logger *zap.Logger
}

// New constructs an Evaluator.
func New(logs LogReader, logger *zap.Logger) *Evaluator {
	return &Evaluator{logs: logs, logger: logger.Named("evaluator")}
}

// DueNow returns the set of schedule ids, among allEnabledSchedules, that
// should execute at instant now. Per spec.md §4.6: a schedule fires on an
// exact-minute tick, or is recovered as overdue if it was due earlier today
// and no terminal execution since start-of-day has already covered that
// time slot. A schedule appears at most once; the first matching time in
// ascending order determines that it is due (the specific slot does not
// otherwise affect the output, since only membership in the set matters).
//
// Per-schedule errors (a malformed Days/Times payload, or a LogReader
// failure) are logged and treated as "not due" for that schedule only —
// the evaluator itself never returns an error, per spec.md §4.6's failure
// semantics.
func (e *Evaluator) DueNow(ctx context.Context, now time.Time, allEnabledSchedules []db.BackupSchedule) []uuid.UUID {
	due := make([]uuid.UUID, 0)
	for _, schedule := range allEnabledSchedules {
		ok, err := e.isDue(ctx, now, schedule)
		if err != nil {
			e.logger.Error("schedule evaluation failed, treating as not due",
				zap.String("schedule_id", schedule.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			due = append(due, schedule.ID)
		}
	}
	return due
}

func (e *Evaluator) isDue(ctx context.Context, now time.Time, schedule db.BackupSchedule) (bool, error) {
	ds, err := decode(schedule)
	if err != nil {
		return false, err
	}

	local := now.In(ds.loc)
	day := int(local.Weekday())
	if !ds.days[day] {
		return false, nil
	}
	minute := local.Hour()*60 + local.Minute()
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ds.loc)

	var terminalToday []db.BackupLog
	fetchedToday := false

	for _, tm := range ds.minutes {
		delta := minute - tm
		switch {
		case delta >= 0 && delta <= 1439:
			// Exact tick (delta==0) and overdue-today (0<delta<=1439) share
			// the same history check: an exact-minute match is itself a
			// same-day slot that a prior run this minute already covers.
			if !fetchedToday {
				terminalToday, err = e.logs.ListTerminalByScheduleSince(ctx, schedule.ID, startOfDay)
				if err != nil {
					return false, err
				}
				fetchedToday = true
			}
			if !coveredBy(terminalToday, startOfDay, tm, ds.loc) {
				return true, nil
			}
			// Otherwise this time slot was already executed; keep
			// checking later slots in ds.minutes (there may be a later
			// slot, still at or before now, not yet covered).
		default:
			// delta < 0: this time is still in the future today, or the
			// schedule has no yesterday-carryover policy (none is
			// modeled in the data model — see DESIGN.md's internal/evaluator entry).
			continue
		}
	}
	return false, nil
}

// coveredBy reports whether some terminal execution in logs started on or
// after startOfDay with a time-of-day at or after tm minutes — meaning the
// tm slot has already been serviced today.
func coveredBy(logs []db.BackupLog, startOfDay time.Time, tm int, loc *time.Location) bool {
	for _, log := range logs {
		if log.StartedAt.Before(startOfDay) {
			continue
		}
		local := log.StartedAt.In(loc)
		minutesOf := local.Hour()*60 + local.Minute()
		if minutesOf >= tm {
			return true
		}
	}
	return false
}

func decode(schedule db.BackupSchedule) (decodedSchedule, error) {
	var days []int
	var times []string
	if err := json.Unmarshal([]byte(schedule.Days), &days); err != nil {
		return decodedSchedule{}, err
	}
	if err := json.Unmarshal([]byte(schedule.Times), &times); err != nil {
		return decodedSchedule{}, err
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		loc = time.UTC
	}

	daySet := make(map[int]bool, len(days))
	for _, d := range days {
		daySet[d] = true
	}

	minutes := make([]int, 0, len(times))
	for _, t := range times {
		var hh, mm int
		if _, err := fmt.Sscanf(t, "%d:%d", &hh, &mm); err != nil {
			return decodedSchedule{}, err
		}
		minutes = append(minutes, hh*60+mm)
	}
	sort.Ints(minutes)

	return decodedSchedule{id: schedule.ID, days: daySet, minutes: minutes, loc: loc}, nil
}
