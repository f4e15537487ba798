package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/spoker/go/internal/dbconfig"
	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/store/pgstore"
)

// seed_rooms creates the rooms table and loads a snapshot exported as
// {"<roomId>": <room document>, ...}. Existing rooms are left alone.
func main() {
	path := flag.String("file", "go/internal/assets/rooms.json", "room snapshot to load")
	schemaOnly := flag.Bool("schema-only", false, "create the table and exit")
	flag.Parse()

	ctx := context.Background()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv("spoker-seed")
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Bootstrap the schema
	if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}
	if *schemaOnly {
		fmt.Println("Rooms schema ready")
		return
	}

	// 3) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var rooms map[string]json.RawMessage
	if err := json.Unmarshal(data, &rooms); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// 4) Insert and count
	var (
		total    = len(rooms)
		inserted int
		skipped  int
		errs     int
	)

	for _, id := range ids {
		if err := models.ValidateRoomID(id); err != nil {
			fmt.Fprintf(os.Stderr, "skipping room %q: %v\n", id, err)
			errs++
			continue
		}
		var room models.Room
		if err := json.Unmarshal(rooms[id], &room); err != nil {
			fmt.Fprintf(os.Stderr, "skipping room %s: %v\n", id, err)
			errs++
			continue
		}
		doc, err := json.Marshal(room)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode room %s: %v\n", id, err)
			errs++
			continue
		}

		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO rooms (id, doc, revision)
            VALUES ($1, $2, 1)
            ON CONFLICT (id) DO NOTHING
        `, id, string(doc))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting room %s: %v\n", id, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 5) Print summary
	fmt.Printf(
		"Rooms seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
