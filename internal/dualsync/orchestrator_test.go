package dualsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/attendance"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/queue"
	"campusattend/internal/remote"
)

type stubMirror struct {
	res   remote.Result
	panic bool
	got   mirror.Payload
}

func (s *stubMirror) Record(_ context.Context, _ string, p mirror.Payload) remote.Result {
	s.got = p
	if s.panic {
		panic("firestore exploded")
	}
	return s.res
}

type stubPortal struct {
	res remote.Result
	got portal.Record
}

func (s *stubPortal) SyncAttendance(_ context.Context, rec portal.Record) remote.Result {
	s.got = rec
	return s.res
}

type seeded struct {
	store   *attendance.MemStore
	student attendance.Student
	session attendance.Session
}

func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	st := attendance.NewMemStore()
	lec := attendance.Lecturer{Username: "jdoe", FullName: "Jane Doe"}
	require.NoError(t, st.CreateLecturer(ctx, &lec))
	unit := attendance.Unit{Code: "CS101", Name: "Intro", LecturerID: lec.ID}
	require.NoError(t, st.CreateUnit(ctx, &unit))
	n := 1
	sess := attendance.Session{
		UnitID: unit.ID, LecturerID: lec.ID, Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00", EndTime: "11:00", Venue: "LT1", ClassYear: "Year 1", Semester: 1,
		SessionNumber: &n, IsActive: true,
	}
	require.NoError(t, st.InsertSession(ctx, &sess))
	student, _, err := st.GetOrCreateStudent(ctx, "ADM001", "Ann")
	require.NoError(t, err)
	return seeded{store: st, student: student, session: sess}
}

func TestMirrorDownPortalUp(t *testing.T) {
	s := seed(t)
	m := &stubMirror{res: remote.Fail(remote.KindConnection, "unreachable")}
	p := &stubPortal{res: remote.OK("portal-9", "ok")}
	o := NewOrchestrator(s.store, m, p, 12, nil)

	out := o.Sync(context.Background(), s.student.ID, s.session.ID)
	assert.True(t, out.Success)
	assert.True(t, out.Created)

	row, err := s.store.AttendanceByID(context.Background(), out.AttendanceID)
	require.NoError(t, err)
	assert.False(t, row.SyncedToRemoteStore)
	assert.True(t, row.SyncedToPortal)

	var stored remote.Result
	require.NoError(t, json.Unmarshal(row.RemoteResponse, &stored))
	assert.Equal(t, remote.KindConnection, stored.Kind)
}

func TestBothTargetsDown(t *testing.T) {
	s := seed(t)
	m := &stubMirror{res: remote.Skip("not connected")}
	p := &stubPortal{res: remote.Fail(remote.KindTimeout, "slow")}
	o := NewOrchestrator(s.store, m, p, 12, nil)

	out := o.Sync(context.Background(), s.student.ID, s.session.ID)
	assert.False(t, out.Success)
	assert.Empty(t, out.Error)

	row, err := s.store.AttendanceByID(context.Background(), out.AttendanceID)
	require.NoError(t, err, "the local row survives remote failures")
	assert.False(t, row.SyncedToRemoteStore)
	assert.False(t, row.SyncedToPortal)
	assert.NotEmpty(t, row.PortalResponse)
}

func TestBothTargetsUp(t *testing.T) {
	s := seed(t)
	m := &stubMirror{res: remote.OK("lec-doc", "ok")}
	p := &stubPortal{res: remote.OK("portal-1", "ok")}
	o := NewOrchestrator(s.store, m, p, 12, nil)

	out := o.Sync(context.Background(), s.student.ID, s.session.ID)
	require.True(t, out.Success)

	row, _ := s.store.AttendanceByID(context.Background(), out.AttendanceID)
	assert.True(t, row.FullySynced())
	assert.Equal(t, "lec-doc", row.RemoteDocID)

	assert.Equal(t, "ADM001", p.got.Student.AdmissionNumber)
	assert.Equal(t, "2025-02-01", p.got.Attendance.Date)
	assert.Equal(t, "09:00 - 11:00", p.got.Attendance.TimeSlot)
	assert.Equal(t, "Jane Doe", p.got.Attendance.LecturerName)
	assert.InDelta(t, 100/12.0, p.got.Attendance.AttendancePercentage, 0.001)
	assert.Equal(t, "CS101", m.got.UnitCode)
}

func TestMirrorPanicIsContained(t *testing.T) {
	s := seed(t)
	m := &stubMirror{panic: true}
	p := &stubPortal{res: remote.OK("portal-1", "ok")}
	o := NewOrchestrator(s.store, m, p, 12, nil)

	out := o.Sync(context.Background(), s.student.ID, s.session.ID)
	assert.True(t, out.Success)
	assert.Equal(t, remote.KindUnexpected, out.Mirror.Kind)
	assert.Contains(t, out.Mirror.Error, "firestore exploded")
}

func TestSyncedFlagNeverRegresses(t *testing.T) {
	s := seed(t)
	m := &stubMirror{res: remote.OK("lec-doc", "ok")}
	p := &stubPortal{res: remote.OK("portal-1", "ok")}
	o := NewOrchestrator(s.store, m, p, 12, nil)
	first := o.Sync(context.Background(), s.student.ID, s.session.ID)

	m.res = remote.Fail(remote.KindTimeout, "slow")
	p.res = remote.Fail(remote.KindHTTPError, "502")
	second := o.Sync(context.Background(), s.student.ID, s.session.ID)
	assert.False(t, second.Created)
	assert.Equal(t, first.AttendanceID, second.AttendanceID)

	row, _ := s.store.AttendanceByID(context.Background(), first.AttendanceID)
	assert.True(t, row.FullySynced())
	assert.Equal(t, "lec-doc", row.RemoteDocID)
}

func TestLocalFailureIsReported(t *testing.T) {
	s := seed(t)
	o := NewOrchestrator(s.store, &stubMirror{}, &stubPortal{}, 12, nil)

	out := o.Sync(context.Background(), s.student.ID, "missing-session")
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

type countingSyncer struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
	want int
}

func (c *countingSyncer) Sync(_ context.Context, studentID, _ string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, studentID)
	if len(c.seen) == c.want {
		close(c.done)
	}
	return Outcome{Success: true}
}

func TestPoolDrainsQueue(t *testing.T) {
	q := queue.NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"s1", "s2", "s3"} {
		msg, err := queue.NewSyncMessage(queue.SyncJob{AttendanceID: "a-" + id, StudentID: id, SessionID: "x"})
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, msg))
	}
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "noise"}))

	syncer := &countingSyncer{done: make(chan struct{}), want: 3}
	pool := NewPool(q, syncer, 2, time.Second, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	select {
	case <-syncer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, syncer.seen)
}
