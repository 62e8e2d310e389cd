// Command admin queries a world's persistence index: recorded snapshots,
// recent tick stats, and the conservation-exception audit trail.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "data directory")
		worldID = flag.String("world", "W1", "world id")
		ticks   = flag.Int("ticks", 10, "tick rows to show")
		losses  = flag.Bool("losses", false, "list conservation exceptions")
	)
	flag.Parse()

	path := filepath.Join(*dataDir, *worldID, "index.db")
	if err := run(path, *ticks, *losses); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, ticks int, losses bool) error {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	if err := printSnapshots(db); err != nil {
		return err
	}
	if err := printTicks(db, ticks); err != nil {
		return err
	}
	if losses {
		return printLosses(db)
	}
	return printLossTotal(db)
}

func printSnapshots(db *sql.DB) error {
	rows, err := db.Query(
		`SELECT tick, path, cells, chunks, total_volume, recorded_at
		 FROM snapshots ORDER BY tick DESC LIMIT 5`)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Println("snapshots:")
	for rows.Next() {
		var tick uint64
		var path, at string
		var cells, chunks int
		var vol float64
		if err := rows.Scan(&tick, &path, &cells, &chunks, &vol, &at); err != nil {
			return err
		}
		fmt.Printf("  tick=%-10d cells=%-7d chunks=%-5d total=%-12g %s  %s\n",
			tick, cells, chunks, vol, at, path)
	}
	return rows.Err()
}

func printTicks(db *sql.DB, limit int) error {
	rows, err := db.Query(
		`SELECT tick, awake_patches, moved_volume, regions, cells, total_volume
		 FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Println("recent ticks:")
	for rows.Next() {
		var tick uint64
		var awake, regions, cells int
		var moved, total float64
		if err := rows.Scan(&tick, &awake, &moved, &regions, &cells, &total); err != nil {
			return err
		}
		fmt.Printf("  tick=%-10d awake=%-5d moved=%-12g regions=%-6d cells=%-8d total=%g\n",
			tick, awake, moved, regions, cells, total)
	}
	return rows.Err()
}

func printLosses(db *sql.DB) error {
	rows, err := db.Query(
		`SELECT tick, x, y, z, amount, reason FROM conservation_losses ORDER BY tick`)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Println("conservation exceptions:")
	for rows.Next() {
		var tick uint64
		var x, y, z int
		var amount float64
		var reason string
		if err := rows.Scan(&tick, &x, &y, &z, &amount, &reason); err != nil {
			return err
		}
		fmt.Printf("  tick=%-10d pos=(%d,%d,%d) amount=%g reason=%q\n",
			tick, x, y, z, amount, reason)
	}
	return rows.Err()
}

func printLossTotal(db *sql.DB) error {
	row := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM conservation_losses`)
	var n int
	var total float64
	if err := row.Scan(&n, &total); err != nil {
		return err
	}
	fmt.Printf("conservation exceptions: %d events, %g total volume\n", n, total)
	return nil
}
