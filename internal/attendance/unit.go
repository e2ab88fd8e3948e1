package attendance

import (
	"context"
	"fmt"
	"strings"
)

// maxCodeSuffix bounds the CS101-2, CS101-3, ... search.
const maxCodeSuffix = 50

// NewUnit is the lecturer's input for a unit.
type NewUnit struct {
	Code        string `json:"code" form:"code" validate:"required,max=20"`
	Name        string `json:"name" form:"name" validate:"required,max=200"`
	Description string `json:"description" form:"description" validate:"max=2000"`
}

// CreateUnit stores a unit for the lecturer. A taken code is suffixed rather than rejected.
func (s *Service) CreateUnit(ctx context.Context, lecturerID string, in NewUnit) (Unit, error) {
	in.Code = strings.ToUpper(strings.Join(strings.Fields(in.Code), ""))
	in.Name = NormalizeName(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := check(in); err != nil {
		return Unit{}, err
	}

	for i := 1; i <= maxCodeSuffix; i++ {
		code := in.Code
		if i > 1 {
			code = fmt.Sprintf("%s-%d", in.Code, i)
		}
		exists, err := s.store.UnitCodeExists(ctx, code)
		if err != nil {
			return Unit{}, fmt.Errorf("check unit code: %w", err)
		}
		if exists {
			continue
		}
		u := Unit{Code: code, Name: in.Name, Description: in.Description, LecturerID: lecturerID}
		err = s.store.CreateUnit(ctx, &u)
		if IsConflict(err, ConstraintUnitCode) {
			continue
		}
		if err != nil {
			return Unit{}, fmt.Errorf("create unit: %w", err)
		}
		return u, nil
	}
	return Unit{}, invalid("code", "Unit code is already taken.")
}

// Units lists the lecturer's units.
func (s *Service) Units(ctx context.Context, lecturerID string) ([]Unit, error) {
	return s.store.UnitsByLecturer(ctx, lecturerID)
}
