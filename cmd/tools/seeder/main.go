package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/pricing"
)

// demoRules is the four-tier stack used in demos and end-to-end checks.
var demoRules = []pricing.MarkupRule{
	{Type: "Insurance", Percentage: 10, Compound: false, Order: 1},
	{Type: "Bond", Percentage: 5, Compound: true, Order: 2},
	{Type: "Fee", Percentage: 2, Compound: true, Order: 3},
	{Type: "Contingency", Percentage: 1, Compound: true, Order: 4},
}

func main() {
	projectID := flag.Int64("project", 1, "project id to seed")
	reset := flag.Bool("reset", false, "delete existing markups for the project first")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	n, err := seedMarkups(ctx, db, *projectID, *reset, demoRules)
	if err != nil {
		logger.Fatal().Err(err).Int64("project_id", *projectID).Msg("seed markups")
	}
	logSeed(logger, *projectID, n)
}

func logSeed(logger zerolog.Logger, projectID int64, inserted int) {
	if inserted == 0 {
		logger.Info().Int64("project_id", projectID).Msg("project already has markups, nothing seeded")
		return
	}
	logger.Info().Int64("project_id", projectID).Int("inserted", inserted).Msg("seeding completed")
}

// seedMarkups inserts rules for a project that has none. It returns the
// number of rows written.
func seedMarkups(ctx context.Context, db *sql.DB, projectID int64, reset bool, rules []pricing.MarkupRule) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if reset {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vertical_markup WHERE project_id = $1`, projectID); err != nil {
			return 0, err
		}
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM vertical_markup WHERE project_id = $1`, projectID).Scan(&existing); err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, tx.Commit()
	}

	for _, rule := range rules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vertical_markup (id, project_id, markup_type, percentage, compound, calculation_order)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), projectID, rule.Type, rule.Percentage, rule.Compound, rule.Order)
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rules), nil
}
