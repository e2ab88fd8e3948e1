package attendance_test

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/attendance"
	"campusattend/internal/store"
)

// postgres opens TEST_DATABASE_URL and migrates it. The run's rows are removed afterwards.
func postgres(t *testing.T) (*attendance.Service, *attendance.Repository, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, dsn, 20)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	run := strings.ToUpper(uuid.NewString()[:8])
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM lecturers WHERE username LIKE $1`, "it-"+strings.ToLower(run)+"%")
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM students WHERE admission_number LIKE $1`, run+"%")
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM units WHERE code LIKE $1`, run+"%")
		db.Close()
	})
	repo := attendance.NewRepository(db.Client)
	return attendance.NewService(repo, attendance.WithTotalLectures(12)), repo, run
}

func TestRepositoryConcurrentSubmit(t *testing.T) {
	svc, repo, run := postgres(t)
	ctx := context.Background()

	lec, err := svc.CreateLecturer(ctx, attendance.NewLecturer{Username: "it-" + strings.ToLower(run), Password: "s3cret-pass"})
	require.NoError(t, err)
	unit, err := svc.CreateUnit(ctx, lec.ID, attendance.NewUnit{Code: run, Name: "Integration"})
	require.NoError(t, err)
	sess, err := svc.CreateSession(ctx, lec.ID, attendance.NewSession{
		UnitID: unit.ID, Date: "2025-03-04", StartTime: "09:00", EndTime: "11:00", Venue: "LT1", Semester: 1,
	}, "https://campus.test")
	require.NoError(t, err)

	const n = 12
	errs := make([]error, n)
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := svc.Submit(ctx, attendance.Submission{SessionID: sess.ID, Name: "Ann Student", AdmissionNumber: run + "-001"})
			errs[i], ids[i] = err, rc.Attendance.ID
		}(i)
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, attendance.ErrAlreadyMarked)
		}
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, ok)

	rows, err := repo.AttendanceForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	students, err := repo.EnrolledStudents(ctx, unit.ID)
	require.NoError(t, err)
	assert.Len(t, students, 1)
}

func TestRepositoryConcurrentNumbering(t *testing.T) {
	svc, _, run := postgres(t)
	ctx := context.Background()

	lec, err := svc.CreateLecturer(ctx, attendance.NewLecturer{Username: "it-" + strings.ToLower(run), Password: "s3cret-pass"})
	require.NoError(t, err)
	unit, err := svc.CreateUnit(ctx, lec.ID, attendance.NewUnit{Code: run, Name: "Integration"})
	require.NoError(t, err)

	const n = 4
	numbers := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := svc.CreateSession(ctx, lec.ID, attendance.NewSession{
				UnitID: unit.ID, Date: "2025-03-04", StartTime: fmt.Sprintf("%02d:00", 8+i), EndTime: "20:00",
				Venue: "LT1", Semester: 1,
			}, "https://campus.test")
			errs[i], numbers[i] = err, sess.Number()
		}(i)
	}
	wg.Wait()

	// with three retries each, at most a few racers give up
	var got []int
	for i, err := range errs {
		if err != nil {
			t.Logf("session %d: %v", i, err)
			continue
		}
		got = append(got, numbers[i])
	}
	require.NotEmpty(t, got)
	sort.Ints(got)
	for i, num := range got {
		assert.Equal(t, i+1, num, "numbers are dense and unique")
	}
}
