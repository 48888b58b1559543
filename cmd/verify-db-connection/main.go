// Command verify-db-connection checks that the configured Postgres database
// is reachable and reports the treasury tables it finds.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"treasury-backend/internal/config"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	database, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open connection: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "ping failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("database reachable")

	rows, err := database.Query(`
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name IN ('accounts', 'bridge_transfers')
		ORDER BY table_name`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "table check failed: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("found table: %s\n", name)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "row iteration failed: %v\n", err)
		os.Exit(1)
	}
}
