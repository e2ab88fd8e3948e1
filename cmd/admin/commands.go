package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"campusattend/internal/attendance"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
)

// createLecturer adds a lecturer account.
func (cli *commandLine) createLecturer(ctx context.Context, in attendance.NewLecturer) error {
	lec, err := cli.svc.CreateLecturer(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created lecturer %s (%s)\n", lec.Username, lec.ID)
	return nil
}

func (cli *commandLine) regenerateQR(ctx context.Context, baseURL string, force bool, limit int) error {
	rep, err := cli.svc.RegenerateQRCodes(ctx, baseURL, force, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "scanned %d, written %d, failed %d\n", rep.Scanned, rep.Written, rep.Failed)
	if rep.Failed > 0 {
		return fmt.Errorf("%d qr codes could not be written", rep.Failed)
	}
	return nil
}

// resync replays unsynced marks through the orchestrator. Flags only move forward,
// so running it twice is harmless.
func (cli *commandLine) resync(ctx context.Context, limit int) error {
	rows, err := cli.svc.Store().UnsyncedAttendance(ctx, limit)
	if err != nil {
		return err
	}
	ok := 0
	for _, a := range rows {
		out := cli.syncer.Sync(ctx, a.StudentID, a.SessionID)
		if out.Success {
			ok++
			continue
		}
		fmt.Fprintf(cli.out, "%s: mirror=%s portal=%s %s\n", a.ID, kindOf(out.Mirror.Success, string(out.Mirror.Kind)),
			kindOf(out.Portal.Success, string(out.Portal.Kind)), out.Error)
	}
	fmt.Fprintf(cli.out, "retried %d, confirmed by at least one target %d\n", len(rows), ok)
	return nil
}

func kindOf(success bool, kind string) string {
	if success {
		return "ok"
	}
	if kind == "" {
		return "failed"
	}
	return kind
}

func (cli *commandLine) pushStudents(ctx context.Context) error {
	students, err := cli.svc.Store().ListStudents(ctx)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		fmt.Fprintln(cli.out, "no students to push")
		return nil
	}
	batch := make([]portal.StudentInfo, 0, len(students))
	for _, st := range students {
		batch = append(batch, portal.StudentInfo{
			AdmissionNumber: st.AdmissionNumber,
			Name:            st.Name,
			Email:           st.Email,
			Phone:           st.Phone,
		})
	}
	res := cli.portal.SyncStudentsBulk(ctx, batch)
	if res.Skipped {
		return errors.New("lecturer portal is not configured")
	}
	if !res.Success {
		return fmt.Errorf("bulk sync failed (%s): %s", res.Kind, res.Error)
	}
	fmt.Fprintf(cli.out, "pushed %d students, portal synced %d\n", len(batch), res.SyncedCount)
	return nil
}

func (cli *commandLine) dedupeSessions(ctx context.Context, confirm bool) error {
	groups, deleted, err := cli.svc.DedupeSessions(ctx, confirm)
	for _, g := range groups {
		fmt.Fprintf(cli.out, "%s %s %s: keep %s, drop %d\n", g.Keep.UnitID, g.Keep.DateString(), g.Keep.StartTime, g.Keep.ID, len(g.Drop))
	}
	if err != nil {
		return err
	}
	if !confirm {
		fmt.Fprintf(cli.out, "%d duplicate groups found; rerun with -confirm to delete\n", len(groups))
		return nil
	}
	fmt.Fprintf(cli.out, "deleted %d sessions\n", deleted)
	return nil
}

// mirrorCleanup writes the session's remote document to a JSON backup and, when
// confirmed, deletes it. Local data is untouched.
func (cli *commandLine) mirrorCleanup(ctx context.Context, sessionID, backupDir string, confirm bool) error {
	sess, _, err := cli.svc.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	snap, err := cli.mirror.SessionSnapshot(ctx, sess.LecturerID, sess.ID)
	if errors.Is(err, mirror.ErrDocNotFound) {
		fmt.Fprintf(cli.out, "session %s has no remote document\n", sess.ID)
		return nil
	}
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	if backupDir == "" {
		backupDir = "."
	}
	path := filepath.Join(backupDir, fmt.Sprintf("mirror_backup_%s_%d.json", sess.ID, time.Now().Unix()))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(cli.out, "backup written to %s\n", path)

	if !confirm {
		fmt.Fprintln(cli.out, "deletion not confirmed; rerun with -confirm to delete")
		return nil
	}
	if err := cli.mirror.DeleteSessionDocument(ctx, sess.LecturerID, sess.ID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted remote document for session %s\n", sess.ID)
	return nil
}
