package store

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/dupescan-agent/internal/database"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

const groupCols = `id, scan_id, label, confidence, relationship, pr_count, created_at`
const memberCols = `id, group_id, pr_number, member_rank, score, rationale`

// GroupWithMembers is a ranked duplicate group as written by one scan.
type GroupWithMembers struct {
	Group   models.DupeGroup
	Members []models.DupeGroupMember
}

// ReplaceDupeGroups deletes any groups previously written by the scan and
// inserts the new set, all in one transaction. Re-running the ranking phase
// therefore never leaves a partial or doubled result.
func (s *Store) ReplaceDupeGroups(ctx context.Context, scanID int64, groups []GroupWithMembers) error {
	return s.db.Tx(ctx, func(q database.Querier) error {
		if err := q.Exec(ctx, `DELETE FROM dupe_groups WHERE scan_id = ?`, scanID); err != nil {
			return fmt.Errorf("clearing prior groups: %w", err)
		}
		for i := range groups {
			g := groups[i].Group
			g.ScanID = scanID
			g.PRCount = len(groups[i].Members)
			if g.CreatedAt == "" {
				g.CreatedAt = now()
			}
			groupID, err := q.Insert(ctx, "dupe_groups", g)
			if err != nil {
				return fmt.Errorf("inserting group %q: %w", g.Label, err)
			}
			for _, m := range groups[i].Members {
				m.GroupID = groupID
				if _, err := q.Insert(ctx, "dupe_group_members", m); err != nil {
					return fmt.Errorf("inserting group member #%d: %w", m.PRNumber, err)
				}
			}
		}
		return nil
	})
}

// ListDupeGroups returns a scan's groups ordered by confidence descending.
func (s *Store) ListDupeGroups(ctx context.Context, scanID int64) ([]models.DupeGroup, error) {
	var out []models.DupeGroup
	err := s.db.Select(ctx, &out,
		`SELECT `+groupCols+` FROM dupe_groups
		 WHERE scan_id = ? ORDER BY confidence DESC, id`,
		scanID)
	return out, err
}

// ListGroupMembers returns a group's members in rank order.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]models.DupeGroupMember, error) {
	var out []models.DupeGroupMember
	err := s.db.Select(ctx, &out,
		`SELECT `+memberCols+` FROM dupe_group_members
		 WHERE group_id = ? ORDER BY member_rank`,
		groupID)
	return out, err
}
