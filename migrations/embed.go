// Package migrations embeds the goose SQL migrations so the migrate command,
// the server and integration tests apply the same schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// gooseMu serializes goose's package-level configuration.
var gooseMu sync.Mutex

// Commands lists the goose commands Run accepts.
var Commands = []string{"up", "down", "status", "version", "redo", "up-to", "down-to"}

// Up applies every pending migration to a PostgreSQL database.
func Up(ctx context.Context, db *sql.DB) error {
	return Run(ctx, db, "up")
}

// Run executes a goose command against a PostgreSQL database. up-to and
// down-to take the target version as their argument.
func Run(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if !slices.Contains(Commands, command) {
		return fmt.Errorf("unknown migration command %q (want one of %s)", command, strings.Join(Commands, ", "))
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, db, ".", args...)
}
