package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/attendance"
	"campusattend/internal/dualsync"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
	"campusattend/internal/remote"
)

type stubSyncer struct {
	calls []string
	fail  map[string]bool
}

func (s *stubSyncer) Sync(_ context.Context, studentID, sessionID string) dualsync.Outcome {
	s.calls = append(s.calls, studentID+"/"+sessionID)
	if s.fail[studentID] {
		return dualsync.Outcome{
			Mirror: remote.Fail(remote.KindTimeout, "deadline exceeded"),
			Portal: remote.Skip("not configured"),
			Error:  "no target confirmed the mark",
		}
	}
	return dualsync.Outcome{Mirror: remote.OK("doc-1", ""), Portal: remote.OK("p-1", ""), Success: true}
}

type stubPusher struct {
	got []portal.StudentInfo
	res portal.BulkResult
}

func (p *stubPusher) SyncStudentsBulk(_ context.Context, students []portal.StudentInfo) portal.BulkResult {
	p.got = students
	return p.res
}

type stubDocuments struct {
	docs    map[string]map[string]any
	deleted []string
}

func (d *stubDocuments) SessionSnapshot(_ context.Context, lecturerID, sessionID string) (mirror.Snapshot, error) {
	data, ok := d.docs[sessionID]
	if !ok {
		return mirror.Snapshot{}, mirror.ErrDocNotFound
	}
	return mirror.Snapshot{Path: []string{"lecturer_usage", lecturerID, "sessions", sessionID}, Data: data}, nil
}

func (d *stubDocuments) DeleteSessionDocument(_ context.Context, _, sessionID string) error {
	delete(d.docs, sessionID)
	d.deleted = append(d.deleted, sessionID)
	return nil
}

func setup(t *testing.T) (*commandLine, *attendance.MemStore, *bytes.Buffer) {
	t.Helper()
	store := attendance.NewMemStore()
	out := &bytes.Buffer{}
	return &commandLine{
		svc:       attendance.NewService(store),
		syncer:    &stubSyncer{},
		portal:    &stubPusher{},
		mirror:    &stubDocuments{},
		baseURL:   "https://campus.test",
		backupDir: t.TempDir(),
		out:       out,
	}, store, out
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
}

func runCases(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), append([]string{"admin"}, tt.args...))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, out := setup(t)
	runCases(t, cli, []cliTest{
		{name: "no command", args: nil, wantErr: errHelp},
		{name: "unknown command", args: []string{"frobnicate"}, wantErr: errHelp},
	})
	assert.Contains(t, out.String(), "create-lecturer")
	assert.Contains(t, out.String(), "dedupe-sessions")
}

func Test_commandLine_createLecturer(t *testing.T) {
	cli, _, _ := setup(t)
	orig := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = orig })
	pwd := "s3cret-pass"
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }

	runCases(t, cli, []cliTest{
		{name: "missing username", args: []string{"create-lecturer"}, wantErr: errHelp},
		{name: "ok", args: []string{"create-lecturer", "-username", "jdoe", "-full-name", "Jane Doe", "-staff-id", "S-01"}},
		{name: "duplicate username", args: []string{"create-lecturer", "-username", "jdoe"}, wantErr: attendance.ErrInvalid},
	})

	lec, err := cli.svc.Authenticate(context.Background(), "jdoe", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", lec.FullName)
	assert.Equal(t, "S-01", lec.StaffID)

	pwd = ""
	err = cli.run(context.Background(), []string{"admin", "create-lecturer", "-username", "empty"})
	assert.ErrorIs(t, err, errHelp)

	readPasswordFunc = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	err = cli.run(context.Background(), []string{"admin", "create-lecturer", "-username", "tty"})
	assert.EqualError(t, err, "not a terminal")
}

func Test_commandLine_regenerateQRNeedsBaseURL(t *testing.T) {
	cli, _, out := setup(t)
	cli.baseURL = ""
	runCases(t, cli, []cliTest{
		{name: "no base url", args: []string{"regenerate-qr"}, wantErr: errHelp},
		{name: "flag supplies it", args: []string{"regenerate-qr", "-base-url", "https://campus.test", "-limit", "5"}},
	})
	assert.Contains(t, out.String(), "scanned 0, written 0, failed 0")
}

func Test_commandLine_resync(t *testing.T) {
	cli, store, out := setup(t)
	ctx := context.Background()
	syncer := &stubSyncer{fail: map[string]bool{"stu-2": true}}
	cli.syncer = syncer

	_, _, err := store.GetOrCreateAttendance(ctx, "stu-1", "sess-1")
	require.NoError(t, err)
	bad, _, err := store.GetOrCreateAttendance(ctx, "stu-2", "sess-1")
	require.NoError(t, err)
	synced, _, err := store.GetOrCreateAttendance(ctx, "stu-3", "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateRemoteSync(ctx, synced.ID, true, "doc-3", nil))
	require.NoError(t, store.UpdatePortalSync(ctx, synced.ID, true, nil))

	runCases(t, cli, []cliTest{{name: "all unsynced", args: []string{"resync"}}})

	assert.ElementsMatch(t, []string{"stu-1/sess-1", "stu-2/sess-1"}, syncer.calls)
	assert.Contains(t, out.String(), bad.ID+": mirror=timeout portal=disabled no target confirmed the mark")
	assert.Contains(t, out.String(), "retried 2, confirmed by at least one target 1")

	syncer.calls = nil
	runCases(t, cli, []cliTest{{name: "limited", args: []string{"resync", "-limit", "1"}}})
	assert.Len(t, syncer.calls, 1)
}

func Test_commandLine_pushStudents(t *testing.T) {
	cli, store, out := setup(t)
	ctx := context.Background()
	pusher := &stubPusher{}
	cli.portal = pusher

	runCases(t, cli, []cliTest{{name: "empty register", args: []string{"push-students"}}})
	assert.Contains(t, out.String(), "no students to push")
	assert.Nil(t, pusher.got)

	_, _, err := store.GetOrCreateStudent(ctx, "ADM-001", "Ann Otieno")
	require.NoError(t, err)
	_, _, err = store.GetOrCreateStudent(ctx, "ADM-002", "Ben Kamau")
	require.NoError(t, err)

	pusher.res = portal.BulkResult{Result: remote.OK("", "ok"), SyncedCount: 2}
	runCases(t, cli, []cliTest{{name: "pushed", args: []string{"push-students"}}})
	require.Len(t, pusher.got, 2)
	assert.ElementsMatch(t, []string{"ADM-001", "ADM-002"},
		[]string{pusher.got[0].AdmissionNumber, pusher.got[1].AdmissionNumber})
	assert.Contains(t, out.String(), "pushed 2 students, portal synced 2")

	pusher.res = portal.BulkResult{Result: remote.Skip("not configured")}
	err = cli.run(ctx, []string{"admin", "push-students"})
	assert.EqualError(t, err, "lecturer portal is not configured")

	pusher.res = portal.BulkResult{Result: remote.Fail(remote.KindHTTPError, "status 502")}
	err = cli.run(ctx, []string{"admin", "push-students"})
	assert.EqualError(t, err, "bulk sync failed (http-error): status 502")
}

func Test_commandLine_dedupeSessions(t *testing.T) {
	cli, _, out := setup(t)
	runCases(t, cli, []cliTest{
		{name: "dry run", args: []string{"dedupe-sessions"}},
		{name: "confirmed", args: []string{"dedupe-sessions", "-confirm"}},
	})
	assert.Contains(t, out.String(), "0 duplicate groups found; rerun with -confirm to delete")
	assert.Contains(t, out.String(), "deleted 0 sessions")
}

func Test_commandLine_mirrorCleanup(t *testing.T) {
	cli, _, out := setup(t)
	ctx := context.Background()
	lec, err := cli.svc.CreateLecturer(ctx, attendance.NewLecturer{Username: "jdoe", Password: "s3cret-pass"})
	require.NoError(t, err)
	unit, err := cli.svc.CreateUnit(ctx, lec.ID, attendance.NewUnit{Code: "CS101", Name: "Intro"})
	require.NoError(t, err)
	sess, err := cli.svc.CreateSession(ctx, lec.ID, attendance.NewSession{
		UnitID: unit.ID, Date: "2025-03-04", StartTime: "09:00", EndTime: "11:00", Venue: "LT1", Semester: 1,
	}, cli.baseURL)
	require.NoError(t, err)

	docs := &stubDocuments{docs: map[string]map[string]any{sess.ID: {"unit_code": "CS101", "attendance_count": 3}}}
	cli.mirror = docs

	runCases(t, cli, []cliTest{
		{name: "session id required", args: []string{"mirror-cleanup"}, wantErr: errHelp},
		{name: "unknown session", args: []string{"mirror-cleanup", "-session-id", "missing"}, wantErr: attendance.ErrNotFound},
		{name: "backup only", args: []string{"mirror-cleanup", "-session-id", sess.ID}},
	})
	assert.Empty(t, docs.deleted)
	assert.Contains(t, out.String(), "deletion not confirmed")

	backups, err := filepath.Glob(filepath.Join(cli.backupDir, "mirror_backup_"+sess.ID+"_*.json"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	raw, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	var snap mirror.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, []string{"lecturer_usage", lec.ID, "sessions", sess.ID}, snap.Path)
	assert.Equal(t, "CS101", snap.Data["unit_code"])

	runCases(t, cli, []cliTest{{name: "confirmed", args: []string{"mirror-cleanup", "-session-id", sess.ID, "-confirm"}}})
	assert.Equal(t, []string{sess.ID}, docs.deleted)

	runCases(t, cli, []cliTest{{name: "already gone", args: []string{"mirror-cleanup", "-session-id", sess.ID}}})
	assert.Contains(t, out.String(), "has no remote document")
}
