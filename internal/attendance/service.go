package attendance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"campusattend/internal/metrics"
	"campusattend/internal/queue"
)

// Artifacts renders and stores the scannable code for a session.
type Artifacts interface {
	// Generate renders {baseURL}/attend/{sessionID}/ and returns a reference to the stored image.
	Generate(ctx context.Context, sessionID, baseURL string) (string, error)
	// Load returns the PNG bytes behind a reference.
	Load(ctx context.Context, ref string) ([]byte, error)
}

// DuplicateAdvisor answers whether a remote copy already records the student. Advisory only.
type DuplicateAdvisor interface {
	AlreadyMarked(ctx context.Context, sessionID, admission string) bool
}

// Service coordinates lecturers, units, sessions and student attendance.
type Service struct {
	store         Store
	artifacts     Artifacts
	jobs          queue.Publisher
	advisor       DuplicateAdvisor
	log           *zap.Logger
	totalLectures int
}

// Option configures a Service.
type Option func(*Service)

// WithArtifacts sets the scannable code store.
func WithArtifacts(a Artifacts) Option { return func(s *Service) { s.artifacts = a } }

// WithPublisher sets where pending-sync jobs go after a new mark.
func WithPublisher(p queue.Publisher) Option { return func(s *Service) { s.jobs = p } }

// WithAdvisor sets the remote duplicate check.
func WithAdvisor(a DuplicateAdvisor) Option { return func(s *Service) { s.advisor = a } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithTotalLectures sets the percentage denominator.
func WithTotalLectures(n int) Option { return func(s *Service) { s.totalLectures = n } }

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, log: zap.NewNop(), totalLectures: DefaultTotalLectures}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store to maintenance tooling.
func (s *Service) Store() Store { return s.store }

// TotalLectures is the configured percentage denominator.
func (s *Service) TotalLectures() int { return s.totalLectures }

// GetOrCreateStudent normalizes identity fields and returns the student, creating it if new.
func (s *Service) GetOrCreateStudent(ctx context.Context, admission, name string) (Student, bool, error) {
	admission = NormalizeAdmission(admission)
	name = NormalizeName(name)
	if admission == "" {
		return Student{}, false, invalid("admission_number", "This field is required.")
	}
	if name == "" {
		return Student{}, false, invalid("name", "This field is required.")
	}
	return s.store.GetOrCreateStudent(ctx, admission, name)
}

// Enroll adds the unit to the student's set. Repeats are no-ops.
func (s *Service) Enroll(ctx context.Context, studentID, unitID string) error {
	return s.store.Enroll(ctx, studentID, unitID)
}

// AttendanceCount counts marks for a student, within one unit unless unitID is empty.
func (s *Service) AttendanceCount(ctx context.Context, studentID, unitID string) (int, error) {
	return s.store.CountAttendance(ctx, studentID, unitID)
}

// AttendancePercentage is 100*count/totalLectures; 0 when totalLectures <= 0.
func (s *Service) AttendancePercentage(ctx context.Context, studentID, unitID string, totalLectures int) (float64, error) {
	if totalLectures <= 0 {
		return 0, nil
	}
	n, err := s.AttendanceCount(ctx, studentID, unitID)
	if err != nil {
		return 0, err
	}
	return Percentage(n, totalLectures), nil
}

// Submission is a student's self-reported attendance.
type Submission struct {
	SessionID       string `json:"-"`
	Name            string `json:"name" validate:"required,max=200"`
	AdmissionNumber string `json:"admission_number" validate:"required,max=50"`
}

// Receipt describes a recorded (or previously recorded) mark.
type Receipt struct {
	Student    Student
	Session    Session
	Unit       Unit
	Attendance Attendance
	Percentage float64
	// Queued reports whether a sync job was accepted by the publisher.
	Queued bool
}

// Submit records attendance for a student. The local write is the only blocking step;
// remote copies are handed to the sync queue. A repeat submission returns ErrAlreadyMarked
// with the existing row and publishes nothing.
func (s *Service) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	sub.Name = NormalizeName(sub.Name)
	sub.AdmissionNumber = NormalizeAdmission(sub.AdmissionNumber)
	if err := check(sub); err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultInvalid).Inc()
		return Receipt{}, err
	}

	sess, err := s.store.SessionByID(ctx, sub.SessionID)
	if err != nil {
		return Receipt{}, err
	}
	unit, err := s.store.UnitByID(ctx, sess.UnitID)
	if err != nil {
		return Receipt{}, fmt.Errorf("load unit: %w", err)
	}
	rc := Receipt{Session: sess, Unit: unit}
	if !sess.IsActive {
		metrics.Submissions.WithLabelValues(metrics.ResultClosed).Inc()
		return rc, ErrSessionClosed
	}

	if s.advisor != nil && s.advisor.AlreadyMarked(ctx, sess.ID, sub.AdmissionNumber) {
		metrics.Submissions.WithLabelValues(metrics.ResultAlreadyMarked).Inc()
		return rc, ErrAlreadyMarked
	}

	student, _, err := s.store.GetOrCreateStudent(ctx, sub.AdmissionNumber, sub.Name)
	if err != nil {
		return rc, fmt.Errorf("get or create student: %w", err)
	}
	rc.Student = student
	if err := s.store.Enroll(ctx, student.ID, unit.ID); err != nil {
		return rc, fmt.Errorf("enroll student: %w", err)
	}

	att, created, err := s.store.GetOrCreateAttendance(ctx, student.ID, sess.ID)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultError).Inc()
		return rc, fmt.Errorf("record attendance: %w", err)
	}
	rc.Attendance = att
	if rc.Percentage, err = s.AttendancePercentage(ctx, student.ID, unit.ID, s.totalLectures); err != nil {
		s.log.Warn("attendance percentage", zap.String("student_id", student.ID), zap.Error(err))
	}
	if !created {
		metrics.Submissions.WithLabelValues(metrics.ResultAlreadyMarked).Inc()
		return rc, ErrAlreadyMarked
	}

	metrics.Submissions.WithLabelValues(metrics.ResultRecorded).Inc()
	rc.Queued = s.enqueueSync(ctx, att)
	return rc, nil
}

// enqueueSync hands a new mark to the sync workers without waiting on them.
func (s *Service) enqueueSync(ctx context.Context, att Attendance) bool {
	if s.jobs == nil {
		return false
	}
	msg, err := queue.NewSyncMessage(queue.SyncJob{
		AttendanceID: att.ID,
		StudentID:    att.StudentID,
		SessionID:    att.SessionID,
	})
	if err == nil {
		err = s.jobs.Publish(ctx, msg)
	}
	if err != nil {
		metrics.SyncJobsDropped.Inc()
		fields := []zap.Field{zap.String("attendance_id", att.ID), zap.Error(err)}
		if errors.Is(err, queue.ErrFull) {
			s.log.Warn("sync queue full, row stays unsynced", fields...)
		} else {
			s.log.Error("queue publish failed", fields...)
		}
		return false
	}
	return true
}
