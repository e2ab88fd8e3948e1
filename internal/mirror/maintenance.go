package mirror

import (
	"context"
	"fmt"
)

// Snapshot is one stored document and where it lives.
type Snapshot struct {
	Path []string       `json:"path"`
	Data map[string]any `json:"data"`
}

func sessionPath(lecturerID, sessionID string) []string {
	return []string{usageCollection, lecturerID, sessionCollection, sessionID}
}

// SessionSnapshot reads the metadata document kept for one session.
// A missing document yields ErrDocNotFound.
func (c *Client) SessionSnapshot(ctx context.Context, lecturerID, sessionID string) (Snapshot, error) {
	b, err := c.connect()
	if err != nil {
		return Snapshot{}, fmt.Errorf("document mirror not connected: %w", err)
	}
	path := sessionPath(lecturerID, sessionID)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := b.Get(ctx, path)
	if err != nil {
		return Snapshot{Path: path}, err
	}
	return Snapshot{Path: path, Data: data}, nil
}

// DeleteSessionDocument removes the metadata document kept for one session.
// The lecturer usage counter is left as is.
func (c *Client) DeleteSessionDocument(ctx context.Context, lecturerID, sessionID string) error {
	b, err := c.connect()
	if err != nil {
		return fmt.Errorf("document mirror not connected: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := b.Delete(ctx, sessionPath(lecturerID, sessionID)); err != nil {
		return fmt.Errorf("delete session document: %w", err)
	}
	return nil
}
