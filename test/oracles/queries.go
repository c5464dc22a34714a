package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is an invariant expressed as a query that returns no rows while the
// invariant holds.
type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// All returns the invariants checked during a stress run. minStake is the
// configured minimum stake in wei.
func All(minStake string) []Oracle {
	return []Oracle{
		{
			Name: "O1_custody_equals_open_round",
			SQL: `SELECT p.address, w.balance, COALESCE(SUM(e.value), 0) AS staked
                  FROM pools p
                  JOIN wallets w ON w.address = p.address
                  LEFT JOIN pool_entries e ON e.pool_address = p.address AND e.round = p.round
                  GROUP BY p.address, w.balance
                  HAVING w.balance <> COALESCE(SUM(e.value), 0)`,
		},
		{
			Name: "O2_no_entries_beyond_round",
			SQL: `SELECT e.* FROM pool_entries e
                  JOIN pools p ON p.address = e.pool_address
                  WHERE e.round > p.round`,
		},
		{
			Name: "O3_event_seq_dense",
			SQL: `WITH seqs AS (
                      SELECT pool_address, seq,
                             ROW_NUMBER() OVER (PARTITION BY pool_address ORDER BY seq) AS n
                      FROM pool_events)
                  SELECT * FROM seqs WHERE seq <> n`,
		},
		{
			Name: "O4_entry_slots_dense",
			SQL: `SELECT pool_address, round, COUNT(*), MAX(slot)
                  FROM pool_entries
                  GROUP BY pool_address, round
                  HAVING MAX(slot) + 1 <> COUNT(*)`,
		},
		{
			Name: "O5_dispute_flag_matches_history",
			SQL: `SELECT p.address, p.dispute_active FROM pools p
                  WHERE p.dispute_active <> EXISTS (
                      SELECT 1 FROM disputes d
                      WHERE d.pool_address = p.address AND d.status = 'under_review')`,
		},
		{
			Name: "O6_dispute_raised_by_participant",
			SQL: `SELECT d.id, d.raised_by FROM disputes d
                  WHERE NOT EXISTS (
                      SELECT 1 FROM pool_entries e
                      WHERE e.pool_address = d.pool_address
                        AND e.round = d.round
                        AND e.player = d.raised_by)`,
		},
		{
			Name: "O7_stake_above_minimum",
			SQL:  `SELECT * FROM pool_entries WHERE value <= $1::numeric`,
			Args: []any{minStake},
		},
		{
			Name: "O8_event_outbox_pairing",
			SQL: `SELECT e.n AS events, o.n AS outbox
                  FROM (SELECT COUNT(*) AS n FROM pool_events) e,
                       (SELECT COUNT(*) AS n FROM outbox) o
                  WHERE e.n <> o.n`,
		},
		{
			Name: "O9_governance_guard",
			SQL: `SELECT 'missing_governance_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='pools_governance_immutable')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, minStake string) (string, string, error) {
	for _, o := range All(minStake) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
