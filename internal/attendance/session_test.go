package attendance

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/remote"
)

func TestNextSessionNumber(t *testing.T) {
	tests := []struct {
		name string
		used []int
		want int
		ok   bool
	}{
		{"empty", nil, 1, true},
		{"sequential", []int{1, 2, 3}, 4, true},
		{"gap", []int{1, 3, 4}, 2, true},
		{"unordered", []int{3, 1}, 2, true},
		{"full", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextSessionNumber(tt.used)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSessionNumberingReusesSmallestGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1 := f.session(t, 1, "09:00")
	s2 := f.session(t, 2, "09:00")
	s3 := f.session(t, 3, "09:00")
	assert.Equal(t, []int{1, 2, 3}, []int{s1.Number(), s2.Number(), s3.Number()})

	require.NoError(t, f.svc.DeleteSession(ctx, s2.ID))
	s4 := f.session(t, 4, "09:00")
	assert.Equal(t, 2, s4.Number())
}

func TestSessionNumbersAreScopedBySemester(t *testing.T) {
	f := newFixture(t)
	f.session(t, 1, "09:00")

	in := f.input(1, "09:00")
	in.Semester = 2
	sess, err := f.svc.CreateSession(context.Background(), f.lecturer.ID, in, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Number())
}

func TestSessionCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for day := 1; day <= MaxSessionNumber; day++ {
		f.session(t, day, "09:00")
	}

	_, err := f.svc.CreateSession(ctx, f.lecturer.ID, f.input(20, "09:00"), "")
	assert.ErrorIs(t, err, ErrSessionCapacity)

	used, err := f.store.SessionNumbersInUse(ctx, f.unit.ID, 1)
	require.NoError(t, err)
	assert.Len(t, used, MaxSessionNumber)
}

func TestDuplicateSlotRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, 1, "09:00")

	_, err := f.svc.CreateSession(ctx, f.lecturer.ID, f.input(1, "9:00"), "")
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	other, err := f.svc.CreateSession(ctx, f.lecturer.ID, f.input(1, "11:00"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, other.Number())
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(1, "10:00")
	in.EndTime = "09:00"
	_, err := f.svc.CreateSession(ctx, f.lecturer.ID, in, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "end_time")

	in = f.input(1, "10:00")
	in.Semester = 3
	_, err = f.svc.CreateSession(ctx, f.lecturer.ID, in, "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "semester")

	in = f.input(1, "10:00")
	in.ClassYear = "Year 9"
	_, err = f.svc.CreateSession(ctx, f.lecturer.ID, in, "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "class_year")

	in = f.input(1, "10:00")
	in.Date = "not-a-date"
	_, err = f.svc.CreateSession(ctx, f.lecturer.ID, in, "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "date")
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t, 1, "08:30")

	assert.True(t, sess.IsActive)
	assert.Equal(t, "Year 1", sess.ClassYear)
	assert.Equal(t, "Jane Doe", sess.LecturerName)
	assert.Equal(t, "mem://"+sess.ID, sess.QRRef)

	png, _, err := f.svc.SessionQR(context.Background(), f.lecturer.ID, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "https://campus.test/attend/"+sess.ID+"/", string(png))
}

func TestArtifactFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.art.fail = true
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.lecturer.ID, f.input(1, "09:00"), "https://campus.test")
	require.NoError(t, err)
	assert.Empty(t, sess.QRRef)

	stored, err := f.store.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.QRRef)

	f.art.fail = false
	ref, err := f.svc.RegenerateQR(ctx, sess.ID, "https://campus.test")
	require.NoError(t, err)
	stored, _ = f.store.SessionByID(ctx, sess.ID)
	assert.Equal(t, ref, stored.QRRef)
}

// racingStore lets a competing writer take the number between scan and insert once.
type racingStore struct {
	*MemStore
	raced bool
}

func (r *racingStore) InsertSession(ctx context.Context, s *Session) error {
	if !r.raced {
		r.raced = true
		rival := *s
		rival.ID = ""
		rival.StartTime = "06:00"
		if err := r.MemStore.InsertSession(ctx, &rival); err != nil {
			return err
		}
	}
	return r.MemStore.InsertSession(ctx, s)
}

func TestSessionNumberRaceRescans(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{MemStore: f.store}
	svc := NewService(store, WithArtifacts(f.art))

	sess, err := svc.CreateSession(context.Background(), f.lecturer.ID, f.input(1, "09:00"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Number())
}

func TestOwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, 1, "09:00")

	other, err := f.svc.CreateLecturer(ctx, NewLecturer{Username: "intruder", Password: "password-2"})
	require.NoError(t, err)

	_, err = f.svc.ToggleSession(ctx, other.ID, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	stored, _ := f.store.SessionByID(ctx, sess.ID)
	assert.True(t, stored.IsActive, "no state change on a forbidden toggle")

	_, err = f.svc.SessionDetail(ctx, other.ID, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = f.svc.SessionQR(ctx, other.ID, sess.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateSession(ctx, other.ID, f.input(2, "09:00"), "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestToggleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, 1, "09:00")

	off, err := f.svc.ToggleSession(ctx, f.lecturer.ID, sess.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	on, err := f.svc.ToggleSession(ctx, f.lecturer.ID, sess.ID)
	require.NoError(t, err)
	assert.True(t, on.IsActive)
}

func TestSessionDetailRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.session(t, 1, "09:00")
	second := f.session(t, 2, "09:00")

	_, err := f.svc.Submit(ctx, Submission{SessionID: first.ID, Name: "Ann", AdmissionNumber: "ADM001"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Submission{SessionID: first.ID, Name: "Ben", AdmissionNumber: "ADM002"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Submission{SessionID: second.ID, Name: "Ben", AdmissionNumber: "ADM002"})
	require.NoError(t, err)

	view, err := f.svc.SessionDetail(ctx, f.lecturer.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Present)
	assert.Equal(t, 1, view.Unsynced)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "ADM002", view.Rows[0].Student.AdmissionNumber)

	require.Len(t, view.Roster, 2)
	assert.Equal(t, "Ben", view.Roster[0].Student.Name)
	assert.True(t, view.Roster[0].Present)
	assert.InDelta(t, 100*2/12.0, view.Roster[0].Percentage, 0.001)
	assert.Equal(t, "Ann", view.Roster[1].Student.Name)
	assert.False(t, view.Roster[1].Present)
	assert.Nil(t, view.Roster[1].MarkedAt)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, 1, "09:00")
	_, err := f.svc.Submit(ctx, Submission{SessionID: sess.ID, Name: "Ann", AdmissionNumber: "ADM001"})
	require.NoError(t, err)

	d, err := f.svc.Dashboard(ctx, f.lecturer.ID)
	require.NoError(t, err)
	assert.Len(t, d.Units, 1)
	require.Len(t, d.Sessions, 1)
	assert.Equal(t, "CS101", d.Sessions[0].UnitCode)
	assert.Equal(t, 1, d.Sessions[0].Present)
}

func TestCreateUnitSuffixesTakenCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u2, err := f.svc.CreateUnit(ctx, f.lecturer.ID, NewUnit{Code: "CS101", Name: "Again"})
	require.NoError(t, err)
	assert.Equal(t, "CS101-2", u2.Code)

	u3, err := f.svc.CreateUnit(ctx, f.lecturer.ID, NewUnit{Code: " cs 101 ", Name: "Third"})
	require.NoError(t, err)
	assert.Equal(t, "CS101-3", u3.Code)

	orig, err := f.store.UnitByID(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro to Computing", orig.Name, "existing unit is never overwritten")

	_, err = f.svc.CreateUnit(ctx, f.lecturer.ID, NewUnit{Code: "", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSyncStatus(t *testing.T) {
	raw := func(r remote.Result) json.RawMessage {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		return b
	}
	tests := []struct {
		name   string
		synced bool
		raw    json.RawMessage
		want   SyncStatus
	}{
		{"confirmed", true, raw(remote.OK("doc-1", "")), SyncStatus{State: SyncSynced}},
		{"never tried", false, nil, SyncStatus{State: SyncPending}},
		{"column default", false, json.RawMessage(`{}`), SyncStatus{State: SyncPending}},
		{"garbage", false, json.RawMessage(`not json`), SyncStatus{State: SyncPending}},
		{"accepted without id", false, raw(remote.OK("", "queued upstream")), SyncStatus{State: SyncSent, Detail: "queued upstream"}},
		{"skipped", false, raw(remote.Skip("portal sync disabled")), SyncStatus{State: SyncSkipped, Kind: remote.KindDisabled, Detail: "portal sync disabled"}},
		{"failed", false, raw(remote.Fail(remote.KindTimeout, "portal sync timeout (>%s)", "10s")),
			SyncStatus{State: SyncFailed, Kind: remote.KindTimeout, Detail: "portal sync timeout (>10s)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syncStatus(tt.synced, tt.raw))
		})
	}
}
