package persist

import (
	"context"
	"fmt"

	"github.com/l1jgo/worldsync/internal/data"
)

// SpawnRepo loads the initial world population from the spawns table.
type SpawnRepo struct {
	db *DB
}

func NewSpawnRepo(db *DB) *SpawnRepo {
	return &SpawnRepo{db: db}
}

// LoadSpawns implements data.SpawnSource.
func (r *SpawnRepo) LoadSpawns(ctx context.Context) ([]data.Spawn, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT collection, entity_id, count, fields::text
		 FROM spawns WHERE enabled ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("query spawns: %w", err)
	}
	defer rows.Close()

	var out []data.Spawn
	for rows.Next() {
		var (
			sp  data.Spawn
			raw string
		)
		if err := rows.Scan(&sp.Collection, &sp.ID, &sp.Count, &raw); err != nil {
			return nil, fmt.Errorf("scan spawn: %w", err)
		}
		sp.Fields, err = data.DecodeFields([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("spawn %s/%s: %w", sp.Collection, sp.ID, err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spawns: %w", err)
	}
	r.db.log.Debug("spawns loaded from database")
	return out, nil
}

// AddSpawn inserts a spawn row. Used by tooling and tests.
func (r *SpawnRepo) AddSpawn(ctx context.Context, sp data.Spawn) error {
	count := sp.Count
	if count < 1 {
		count = 1
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO spawns (collection, entity_id, count, fields) VALUES ($1, $2, $3, $4)`,
		sp.Collection, sp.ID, count, sp.Fields,
	)
	if err != nil {
		return fmt.Errorf("insert spawn: %w", err)
	}
	return nil
}
