package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"campusattend/internal/attendance"
	"campusattend/internal/dualsync"
	"campusattend/internal/mirror"
	"campusattend/internal/portal"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// studentPusher sends the student register to the lecturer portal.
type studentPusher interface {
	SyncStudentsBulk(ctx context.Context, students []portal.StudentInfo) portal.BulkResult
}

// documentStore backs up and removes mirrored session documents.
type documentStore interface {
	SessionSnapshot(ctx context.Context, lecturerID, sessionID string) (mirror.Snapshot, error)
	DeleteSessionDocument(ctx context.Context, lecturerID, sessionID string) error
}

type commandLine struct {
	svc       *attendance.Service
	syncer    dualsync.Syncer
	portal    studentPusher
	mirror    documentStore
	baseURL   string
	backupDir string
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  create-lecturer -username NAME [-full-name N] [-staff-id ID] [-department D] - password is prompted")
	fmt.Fprintln(cli.out, "  regenerate-qr [-force] [-limit N] [-base-url URL]                           - rebuild missing QR codes")
	fmt.Fprintln(cli.out, "  resync [-limit N]                                                           - retry unsynced attendance")
	fmt.Fprintln(cli.out, "  push-students                                                               - bulk sync students to the portal")
	fmt.Fprintln(cli.out, "  dedupe-sessions [-confirm]                                                  - drop older duplicate sessions")
	fmt.Fprintln(cli.out, "  mirror-cleanup -session-id ID [-backup-dir DIR] [-confirm]                  - back up, then delete a mirrored session")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "create-lecturer":
		fs := flag.NewFlagSet("create-lecturer", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		in := attendance.NewLecturer{}
		fs.StringVar(&in.Username, "username", "", "Login name. The password will be prompted next.")
		fs.StringVar(&in.FullName, "full-name", "", "Display name")
		fs.StringVar(&in.StaffID, "staff-id", "", "Staff number")
		fs.StringVar(&in.Department, "department", "", "Department")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if in.Username == "" {
			fs.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			fs.Usage()
			return errHelp
		}
		in.Password = string(pwd)
		return cli.createLecturer(ctx, in)

	case "regenerate-qr":
		fs := flag.NewFlagSet("regenerate-qr", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		force := fs.Bool("force", false, "Rebuild every session, not only those without a code")
		limit := fs.Int("limit", 0, "Maximum sessions to process (0 = all)")
		baseURL := fs.String("base-url", cli.baseURL, "Site base URL encoded into the codes")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *baseURL == "" {
			fmt.Fprintln(cli.out, "a base URL is required (-base-url or SITE_BASE_URL)")
			return errHelp
		}
		return cli.regenerateQR(ctx, *baseURL, *force, *limit)

	case "resync":
		fs := flag.NewFlagSet("resync", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		limit := fs.Int("limit", 100, "Maximum rows to retry")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.resync(ctx, *limit)

	case "push-students":
		return cli.pushStudents(ctx)

	case "dedupe-sessions":
		fs := flag.NewFlagSet("dedupe-sessions", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		confirm := fs.Bool("confirm", false, "Delete the duplicates instead of listing them")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.dedupeSessions(ctx, *confirm)

	case "mirror-cleanup":
		fs := flag.NewFlagSet("mirror-cleanup", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		sessionID := fs.String("session-id", "", "Local session id whose remote document is removed")
		backupDir := fs.String("backup-dir", cli.backupDir, "Directory the JSON backup is written to")
		confirm := fs.Bool("confirm", false, "Delete after the backup instead of only backing up")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *sessionID == "" {
			fs.Usage()
			return errHelp
		}
		return cli.mirrorCleanup(ctx, *sessionID, *backupDir, *confirm)

	default:
		cli.printUsage()
		return errHelp
	}
}
