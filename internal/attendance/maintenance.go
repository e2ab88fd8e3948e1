package attendance

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// DuplicateGroup is a set of sessions sharing (unit, semester, date, start time).
// Keep is the newest; Drop holds the rest.
type DuplicateGroup struct {
	Keep Session
	Drop []Session
}

// FindDuplicateSessions groups legacy rows that collide on the session slot.
func (s *Service) FindDuplicateSessions(ctx context.Context) ([]DuplicateGroup, error) {
	sessions, err := s.store.ListSessions(ctx, SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	type slot struct {
		unit     string
		semester int
		date     string
		start    string
	}
	bySlot := make(map[slot][]Session)
	var order []slot
	for _, sess := range sessions {
		k := slot{sess.UnitID, sess.Semester, sess.DateString(), sess.StartTime}
		if _, ok := bySlot[k]; !ok {
			order = append(order, k)
		}
		bySlot[k] = append(bySlot[k], sess)
	}

	var groups []DuplicateGroup
	for _, k := range order {
		rows := bySlot[k]
		if len(rows) < 2 {
			continue
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
		groups = append(groups, DuplicateGroup{Keep: rows[0], Drop: rows[1:]})
	}
	return groups, nil
}

// DedupeSessions deletes every duplicate but the newest. With apply false it only reports.
func (s *Service) DedupeSessions(ctx context.Context, apply bool) ([]DuplicateGroup, int, error) {
	groups, err := s.FindDuplicateSessions(ctx)
	if err != nil || !apply {
		return groups, 0, err
	}
	deleted := 0
	for _, g := range groups {
		for _, d := range g.Drop {
			if err := s.store.DeleteSession(ctx, d.ID); err != nil {
				return groups, deleted, fmt.Errorf("delete session %s: %w", d.ID, err)
			}
			deleted++
			s.log.Info("duplicate session deleted", zap.String("session_id", d.ID), zap.String("kept", g.Keep.ID))
		}
	}
	return groups, deleted, nil
}

// RegenerateReport counts the outcome of a bulk QR rebuild.
type RegenerateReport struct {
	Scanned int
	Written int
	Failed  int
}

// RegenerateQRCodes rebuilds artifacts for sessions missing one, or for all sessions when force is set.
func (s *Service) RegenerateQRCodes(ctx context.Context, baseURL string, force bool, limit int) (RegenerateReport, error) {
	var rep RegenerateReport
	sessions, err := s.store.ListSessions(ctx, SessionFilter{MissingQR: !force, Limit: limit})
	if err != nil {
		return rep, fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range sessions {
		rep.Scanned++
		if _, err := s.attachQR(ctx, sess.ID, baseURL); err != nil {
			rep.Failed++
			s.log.Warn("qr regeneration failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		rep.Written++
	}
	return rep, nil
}
