package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// NewLecturer is the input for a lecturer account.
type NewLecturer struct {
	Username   string `json:"username" validate:"required,max=150"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	FullName   string `json:"full_name" validate:"max=200"`
	StaffID    string `json:"staff_id" validate:"max=50"`
	Department string `json:"department" validate:"max=200"`
	Phone      string `json:"phone" validate:"max=20"`
}

// CreateLecturer hashes the password and stores the account.
func (s *Service) CreateLecturer(ctx context.Context, in NewLecturer) (Lecturer, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = NormalizeName(in.FullName)
	in.StaffID = strings.ToUpper(strings.TrimSpace(in.StaffID))
	if err := check(in); err != nil {
		return Lecturer{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Lecturer{}, fmt.Errorf("hash password: %w", err)
	}
	l := Lecturer{
		Username:     in.Username,
		FullName:     in.FullName,
		PasswordHash: string(hash),
		StaffID:      in.StaffID,
		Department:   strings.TrimSpace(in.Department),
		Phone:        strings.TrimSpace(in.Phone),
	}
	if err := s.store.CreateLecturer(ctx, &l); err != nil {
		switch {
		case IsConflict(err, ConstraintLecturerUsername):
			return Lecturer{}, invalid("username", "A lecturer with that username already exists.")
		case IsConflict(err, ConstraintLecturerStaffID):
			return Lecturer{}, invalid("staff_id", "A lecturer with that staff id already exists.")
		}
		return Lecturer{}, fmt.Errorf("create lecturer: %w", err)
	}
	return l, nil
}

// Authenticate checks a username and password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Lecturer, error) {
	l, err := s.store.LecturerByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return Lecturer{}, ErrInvalidCredentials
	}
	if err != nil {
		return Lecturer{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(l.PasswordHash), []byte(password)) != nil {
		return Lecturer{}, ErrInvalidCredentials
	}
	return l, nil
}

// Lecturer returns a lecturer by id.
func (s *Service) Lecturer(ctx context.Context, id string) (Lecturer, error) {
	return s.store.LecturerByID(ctx, id)
}
