package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests.
// It enforces the same unique constraints as the Postgres schema.
type MemStore struct {
	mu         sync.Mutex
	now        func() time.Time
	lecturers  map[string]Lecturer
	units      map[string]Unit
	sessions   map[string]Session
	students   map[string]Student
	enrolled   map[string]map[string]bool // unitID -> studentID
	attendance map[string]Attendance
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		now:        time.Now,
		lecturers:  make(map[string]Lecturer),
		units:      make(map[string]Unit),
		sessions:   make(map[string]Session),
		students:   make(map[string]Student),
		enrolled:   make(map[string]map[string]bool),
		attendance: make(map[string]Attendance),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) CreateLecturer(_ context.Context, l *Lecturer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.lecturers {
		if x.Username == l.Username {
			return &ConflictError{Constraint: ConstraintLecturerUsername}
		}
		if l.StaffID != "" && x.StaffID == l.StaffID {
			return &ConflictError{Constraint: ConstraintLecturerStaffID}
		}
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = m.now()
	m.lecturers[l.ID] = *l
	return nil
}

func (m *MemStore) LecturerByID(_ context.Context, id string) (Lecturer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lecturers[id]
	if !ok {
		return Lecturer{}, ErrNotFound
	}
	return l, nil
}

func (m *MemStore) LecturerByUsername(_ context.Context, username string) (Lecturer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lecturers {
		if l.Username == username {
			return l, nil
		}
	}
	return Lecturer{}, ErrNotFound
}

func (m *MemStore) CreateUnit(_ context.Context, u *Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.units {
		if x.Code == u.Code {
			return &ConflictError{Constraint: ConstraintUnitCode}
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	m.units[u.ID] = *u
	return nil
}

func (m *MemStore) UnitByID(_ context.Context, id string) (Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return Unit{}, ErrNotFound
	}
	return u, nil
}

func (m *MemStore) UnitCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) UnitsByLecturer(_ context.Context, lecturerID string) ([]Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Unit
	for _, u := range m.units {
		if u.LecturerID == lecturerID {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code < res[j].Code })
	return res, nil
}

func (m *MemStore) InsertSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.sessions {
		if x.UnitID != s.UnitID || x.Semester != s.Semester {
			continue
		}
		if s.SessionNumber != nil && x.SessionNumber != nil && *x.SessionNumber == *s.SessionNumber {
			return &ConflictError{Constraint: ConstraintSessionNumber}
		}
		if x.Date.Equal(s.Date) && x.StartTime == s.StartTime {
			return &ConflictError{Constraint: ConstraintSessionSlot}
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = m.now()
	m.sessions[s.ID] = copySession(*s)
	return nil
}

func copySession(s Session) Session {
	if s.SessionNumber != nil {
		n := *s.SessionNumber
		s.SessionNumber = &n
	}
	return s
}

func (m *MemStore) SessionByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemStore) SessionsByLecturer(_ context.Context, lecturerID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.LecturerID == lecturerID {
			res = append(res, copySession(s))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		ca, cb := m.units[a.UnitID].Code, m.units[b.UnitID].Code
		if ca != cb {
			return ca < cb
		}
		if a.Semester != b.Semester {
			return a.Semester < b.Semester
		}
		if a.Number() != b.Number() {
			return a.Number() < b.Number()
		}
		return a.Date.Before(b.Date)
	})
	return res, nil
}

func (m *MemStore) ListSessions(_ context.Context, f SessionFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if f.MissingQR && s.QRRef != "" {
			continue
		}
		res = append(res, copySession(s))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.After(res[j].Date)
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *MemStore) SessionNumbersInUse(_ context.Context, unitID string, semester int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used []int
	for _, s := range m.sessions {
		if s.UnitID == unitID && s.Semester == semester && s.SessionNumber != nil {
			used = append(used, *s.SessionNumber)
		}
	}
	return used, nil
}

func (m *MemStore) SessionSlotTaken(_ context.Context, unitID string, semester int, date time.Time, startTime string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UnitID == unitID && s.Semester == semester && s.Date.Equal(date) && s.StartTime == startTime {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) SetSessionActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = active
	m.sessions[id] = s
	return nil
}

func (m *MemStore) SetSessionQR(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.QRRef = ref
	m.sessions[id] = s
	return nil
}

func (m *MemStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	for aid, a := range m.attendance {
		if a.SessionID == id {
			delete(m.attendance, aid)
		}
	}
	return nil
}

func (m *MemStore) GetOrCreateStudent(_ context.Context, admission, name string) (Student, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.students {
		if st.AdmissionNumber == admission {
			return st, false, nil
		}
	}
	st := Student{ID: uuid.NewString(), AdmissionNumber: admission, Name: name, CreatedAt: m.now()}
	m.students[st.ID] = st
	return st, true, nil
}

func (m *MemStore) StudentByID(_ context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return st, nil
}

func (m *MemStore) ListStudents(_ context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemStore) Enroll(_ context.Context, studentID, unitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrolled[unitID] == nil {
		m.enrolled[unitID] = make(map[string]bool)
	}
	m.enrolled[unitID][studentID] = true
	return nil
}

func (m *MemStore) EnrolledStudents(_ context.Context, unitID string) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Student
	for id := range m.enrolled[unitID] {
		if st, ok := m.students[id]; ok {
			res = append(res, st)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemStore) GetOrCreateAttendance(_ context.Context, studentID, sessionID string) (Attendance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attendance {
		if a.StudentID == studentID && a.SessionID == sessionID {
			return a, false, nil
		}
	}
	a := Attendance{ID: uuid.NewString(), StudentID: studentID, SessionID: sessionID, MarkedAt: m.now()}
	m.attendance[a.ID] = a
	return a, true, nil
}

func (m *MemStore) AttendanceByID(_ context.Context, id string) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendance[id]
	if !ok {
		return Attendance{}, ErrNotFound
	}
	return a, nil
}

func (m *MemStore) AttendanceForSession(_ context.Context, sessionID string) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Attendance
	for _, a := range m.attendance {
		if a.SessionID == sessionID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MarkedAt.After(res[j].MarkedAt) })
	return res, nil
}

func (m *MemStore) CountAttendance(_ context.Context, studentID, unitID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attendance {
		if a.StudentID != studentID {
			continue
		}
		if unitID != "" && m.sessions[a.SessionID].UnitID != unitID {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemStore) UpdateRemoteSync(_ context.Context, id string, synced bool, docID string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendance[id]
	if !ok {
		return ErrNotFound
	}
	a.SyncedToRemoteStore = a.SyncedToRemoteStore || synced
	if docID != "" {
		a.RemoteDocID = docID
	}
	a.RemoteResponse = append([]byte(nil), response...)
	m.attendance[id] = a
	return nil
}

func (m *MemStore) UpdatePortalSync(_ context.Context, id string, synced bool, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendance[id]
	if !ok {
		return ErrNotFound
	}
	a.SyncedToPortal = a.SyncedToPortal || synced
	a.PortalResponse = append([]byte(nil), response...)
	m.attendance[id] = a
	return nil
}

func (m *MemStore) UnsyncedAttendance(_ context.Context, limit int) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Attendance
	for _, a := range m.attendance {
		if !a.FullySynced() {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MarkedAt.Before(res[j].MarkedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
