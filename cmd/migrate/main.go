package main

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/migrations"

	"github.com/jmoiron/sqlx"
)

const downMarker = "-- +migrate Down"

// migration is one schema file split into executable up statements.
type migration struct {
	name       string
	statements []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	all, err := load(migrations.Files)
	if err != nil {
		logger.Error("failed to read migrations", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, database, command, all, logger); err != nil {
		logger.Error("migrate failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, database *sqlx.DB, command string, all []migration, logger *slog.Logger) error {
	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	var applied []string
	if err := database.SelectContext(ctx, &applied, `SELECT filename FROM schema_migrations`); err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	todo := pending(all, applied)

	switch command {
	case "status":
		logger.Info("migration status", slog.Int("applied", len(all)-len(todo)), slog.Int("pending", len(todo)))
		for _, m := range todo {
			logger.Info("pending migration", slog.String("file", m.name))
		}
		return nil
	case "up":
		for _, m := range todo {
			if err := db.WithTx(ctx, database, func(tx *sqlx.Tx) error { return apply(ctx, tx, m) }); err != nil {
				return fmt.Errorf("%s: %w", m.name, err)
			}
			logger.Info("applied migration", slog.String("file", m.name))
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (want up or status)", command)
	}
}

func apply(ctx context.Context, tx *sqlx.Tx, m migration) error {
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, m.name)
	return err
}

// load reads every .sql file in name order.
func load(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		up, _, _ := strings.Cut(string(content), downMarker)
		out = append(out, migration{name: name, statements: splitStatements(up)})
	}
	return out, nil
}

func pending(all []migration, applied []string) []migration {
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	var out []migration
	for _, m := range all {
		if !done[m.name] {
			out = append(out, m)
		}
	}
	return out
}

// splitStatements breaks SQL on lines ending a statement. Comment lines are
// dropped. Dollar-quoted bodies are not supported.
func splitStatements(sqlText string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			flush()
		}
	}
	flush()
	return statements
}
