// verify_schema checks that an existing journal database carries the
// tables and columns the console expects.
//
//	go run ./scripts/verify_schema -db ./data/console.db
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"trading-console/pkg/db"
)

var expected = map[string][]string{
	"orders":   {"order_id", "parent_id", "con_id", "symbol", "status", "session_id", "updated_at"},
	"brackets": {"id", "parent_id", "child_id", "status", "error"},
}

func main() {
	dbPath := flag.String("db", "./data/console.db", "journal database path")
	flag.Parse()
	fmt.Printf("Verifying database at: %s\n", *dbPath)

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("database not found: %v", err)
	}
	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()

	missing := 0
	for table, columns := range expected {
		have, err := tableColumns(database, table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if len(have) == 0 {
			fmt.Printf("❌ %s table MISSING\n", table)
			missing++
			continue
		}
		fmt.Printf("✓ %s table exists\n", table)
		for _, col := range columns {
			if !have[col] {
				fmt.Printf("  ❌ %s.%s column MISSING\n", table, col)
				missing++
			}
		}
	}
	if missing > 0 {
		fmt.Printf("\n%d problem(s); start the console once to apply migrations.\n", missing)
		os.Exit(1)
	}
	fmt.Println("\nschema OK")
}

func tableColumns(database *db.Database, table string) (map[string]bool, error) {
	rows, err := database.DB.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue any
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
