// Command leaderboard_io moves leaderboard rows in and out of Postgres.
//
//	go run ./go/internal/tools/leaderboard_io export > backup.json
//	go run ./go/internal/tools/leaderboard_io seed backup.json
//	go run ./go/internal/tools/leaderboard_io dedupe
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/escaperoom/go/internal/dbconfig"
	"github.com/mcdev12/escaperoom/go/internal/leaderboard"
	"github.com/mcdev12/escaperoom/go/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: leaderboard_io export|seed <file>|dedupe")
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "export":
		err = export(ctx, pool)
	case "seed":
		if len(os.Args) < 3 {
			err = fmt.Errorf("seed needs a JSON file")
			break
		}
		err = seed(ctx, pool, os.Args[2])
	case "dedupe":
		err = dedupe(ctx, pool)
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func loadEntries(ctx context.Context, pool *pgxpool.Pool) ([]models.LeaderboardEntry, error) {
	rows, err := pool.Query(ctx, `
        SELECT id::text, player_name, total_time, task_times, completed_at,
               date, created_at, status, started_at
        FROM leaderboard
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var (
			id        string
			e         models.LeaderboardEntry
			status    *string
			startedAt *time.Time
		)
		if err := rows.Scan(&id, &e.PlayerName, &e.TotalTime, &e.TaskTimes, &e.CompletedAt,
			&e.Date, &e.CreatedAt, &status, &startedAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("row id %q: %w", id, err)
		}
		if status != nil {
			e.Tracking = &models.Tracking{Status: models.EntryStatus(*status), StartedAt: startedAt}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func export(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := loadEntries(ctx, pool)
	if err != nil {
		return err
	}
	leaderboard.SortEntries(entries)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return enc.Encode(entries)
}

// seed inserts rows from an export, keeping rows that already exist.
func seed(ctx context.Context, pool *pgxpool.Pool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read JSON: %w", err)
	}
	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal JSON: %w", err)
	}

	var (
		total    = len(entries)
		inserted int
		skipped  int
		errs     int
	)

	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		taskTimes, err := json.Marshal(nonNil(e.TaskTimes))
		if err != nil {
			errs++
			continue
		}
		var (
			status    *string
			startedAt *time.Time
		)
		if e.Tracking != nil {
			s := string(e.Status())
			status, startedAt = &s, e.Tracking.StartedAt
		}

		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO leaderboard (
              id, player_name, total_time, task_times, completed_at,
              date, created_at, status, started_at
            ) VALUES (
              $1::uuid,$2,$3,$4,$5,$6,$7,$8,$9
            )
            ON CONFLICT DO NOTHING
        `,
			e.ID.String(), e.PlayerName, e.TotalTime, taskTimes, e.CompletedAt,
			e.Date, e.CreatedAt, status, startedAt,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting entry %s: %v\n", e.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	fmt.Printf(
		"Leaderboard seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
	return nil
}

func dedupe(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := loadEntries(ctx, pool)
	if err != nil {
		return err
	}
	ids := leaderboard.DuplicateIDs(entries)
	if len(ids) == 0 {
		fmt.Println("No duplicate leaderboard entries")
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	cmdTag, err := pool.Exec(ctx, `DELETE FROM leaderboard WHERE id = ANY($1::uuid[])`, strIDs)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d duplicate leaderboard entries\n", cmdTag.RowsAffected())
	return nil
}

func nonNil(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
