package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type fakeLogReader struct {
	byScheduleSince map[uuid.UUID][]db.BackupLog
}

func (f *fakeLogReader) ListTerminalByScheduleSince(_ context.Context, scheduleID uuid.UUID, since time.Time) ([]db.BackupLog, error) {
	var out []db.BackupLog
	for _, l := range f.byScheduleSince[scheduleID] {
		if !l.StartedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func tuesdaySchedule(t *testing.T) db.BackupSchedule {
	t.Helper()
	return db.BackupSchedule{
		ID:             uuid.New(),
		Days:           `[2]`,
		Times:          `["14:00"]`,
		Timezone:       "UTC",
		RetentionCount: 3,
		Enabled:        true,
	}
}

// S2: Schedule fires once on tick.
func TestDueNow_ExactTick(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 0, 0, time.UTC) // a Tuesday
	require.Equal(t, time.Tuesday, now.Weekday())

	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Equal(t, []uuid.UUID{schedule.ID}, due)
}

func TestDueNow_OverdueRecoveryWithoutPriorLog(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 45, 0, time.UTC)

	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Equal(t, []uuid.UUID{schedule.ID}, due)
}

func TestDueNow_SuppressedWhenAlreadyExecutedToday(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 45, 0, time.UTC)
	startedAt := time.Date(2026, 8, 4, 14, 0, 12, 0, time.UTC)

	reader := &fakeLogReader{byScheduleSince: map[uuid.UUID][]db.BackupLog{
		schedule.ID: {{Status: "success", StartedAt: startedAt}},
	}}
	ev := New(reader, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Empty(t, due)
}

// An exact-minute tick must consult history exactly like an overdue-today
// slot does: a prior terminal run already covering that minute suppresses
// the re-fire even though delta==0.
func TestDueNow_ExactTickSuppressedWhenAlreadyExecutedThisMinute(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 0, 0, time.UTC)
	startedAt := time.Date(2026, 8, 4, 14, 0, 0, 0, time.UTC)

	reader := &fakeLogReader{byScheduleSince: map[uuid.UUID][]db.BackupLog{
		schedule.ID: {{Status: "success", StartedAt: startedAt}},
	}}
	ev := New(reader, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Empty(t, due)
}

func TestDueNow_WrongWeekday(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 5, 14, 0, 0, 0, time.UTC) // Wednesday

	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Empty(t, due)
}

func TestDueNow_FutureToday(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 13, 59, 0, 0, time.UTC)

	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Empty(t, due)
}

// Idempotence (spec.md §8 invariant 1): calling DueNow twice with the same
// inputs yields identical sets.
func TestDueNow_Idempotent(t *testing.T) {
	schedule := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 0, 0, time.UTC)

	ev := New(&fakeLogReader{}, zap.NewNop())
	first := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	second := ev.DueNow(context.Background(), now, []db.BackupSchedule{schedule})
	require.Equal(t, first, second)
}

func TestDueNow_DisabledSchedulesAreNeverPassedIn(t *testing.T) {
	// DueNow trusts its caller to have already filtered to enabled
	// schedules (spec.md §4.6's signature takes allEnabledSchedules); an
	// empty input always yields an empty result.
	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), time.Now(), nil)
	require.Empty(t, due)
}

func TestDueNow_MalformedScheduleIsSkippedNotFatal(t *testing.T) {
	bad := tuesdaySchedule(t)
	bad.Days = `not json`
	good := tuesdaySchedule(t)
	now := time.Date(2026, 8, 4, 14, 0, 0, 0, time.UTC)

	ev := New(&fakeLogReader{}, zap.NewNop())
	due := ev.DueNow(context.Background(), now, []db.BackupSchedule{bad, good})
	require.Equal(t, []uuid.UUID{good.ID}, due)
}
