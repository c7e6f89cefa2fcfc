package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/config"
	"github.com/tmaia/glucolog/internal/profile"
	"github.com/tmaia/glucolog/internal/store"
	intsync "github.com/tmaia/glucolog/internal/sync"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := openEnv(profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = env.db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "log":
		cmdLog(env, args[1:], *jsonFlag)
	case "list":
		cmdList(env, args[1:], *jsonFlag)
	case "sync":
		cmdSync(ctx, env, *jsonFlag)
	case "conflicts":
		cmdConflicts(env, *jsonFlag)
	case "resolve":
		cmdResolve(env, args[1:], *jsonFlag)
	case "audit":
		cmdAudit(env, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: glucologctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  log --value <n> [--unit mg/dL|mmol/L] [--category <c>] [--notes <s>]")
	fmt.Fprintln(os.Stderr, "                   Record a reading and queue it for sync")
	fmt.Fprintln(os.Stderr, "  list             List stored readings")
	fmt.Fprintln(os.Stderr, "  sync             Run one full push-then-pull sync pass")
	fmt.Fprintln(os.Stderr, "  conflicts        List pending sync conflicts")
	fmt.Fprintln(os.Stderr, "  resolve --id <n> --strategy keep-mine|keep-server|keep-both")
	fmt.Fprintln(os.Stderr, "                   Resolve a pending conflict")
	fmt.Fprintln(os.Stderr, "  audit            Show the conflict resolution audit trail")
}

// env bundles everything a subcommand needs.
type env struct {
	db     *store.DB
	engine *intsync.Engine
}

func openEnv(profileName string) (*env, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if os.IsNotExist(err) {
		cfg = &config.Config{SyncIntervalSeconds: config.DefaultSyncIntervalSeconds}
	} else if err != nil {
		return nil, err
	}

	if err := profile.EnsureDir(profileName); err != nil {
		return nil, err
	}
	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	client := backend.NewClient(cfg.BackendURL, cfg.AuthToken, zap.NewNop())
	engine := intsync.NewEngine(db, client, nil, zap.NewNop(), cfg.Offline)
	return &env{db: db, engine: engine}, nil
}

func cmdLog(e *env, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	value := fs.Float64("value", 0, "glucose value")
	unit := fs.String("unit", intsync.UnitMgdL, "unit (mg/dL or mmol/L)")
	category := fs.String("category", "random", "measurement category")
	notes := fs.String("notes", "", "free-form notes")
	measuredAt := fs.String("measured-at", "", "measurement time (RFC 3339, default now)")
	_ = fs.Parse(args)

	r := &store.Reading{
		Value:    *value,
		Unit:     *unit,
		Category: *category,
		Notes:    *notes,
	}
	if *measuredAt != "" {
		t, err := time.Parse(time.RFC3339, *measuredAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: bad --measured-at: %v\n", err)
			os.Exit(1)
		}
		r.MeasuredAt = t.UnixMilli()
	}

	if err := e.engine.LogReading(r); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(r)
		return
	}
	fmt.Printf("Logged %s: %.1f %s (%s)\n", r.ID, r.Value, r.Unit, r.Status)
}

func cmdList(e *env, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum rows")
	_ = fs.Parse(args)

	readings, err := e.db.ListReadings(*limit, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(readings)
		return
	}
	if len(readings) == 0 {
		fmt.Println("No readings.")
		return
	}
	for _, r := range readings {
		synced := "pending"
		if r.Synced {
			synced = "synced"
		}
		when := time.UnixMilli(r.MeasuredAt).UTC().Format(time.RFC3339)
		fmt.Printf("%-28s %7.1f %-6s %-13s %-10s %s\n", r.ID, r.Value, r.Unit, r.Status, synced, when)
	}
}

func cmdSync(ctx context.Context, e *env, jsonOut bool) {
	result := e.engine.PerformFullSync(ctx)
	if jsonOut {
		outputJSON(result)
		return
	}
	fmt.Printf("Pushed:  %d\n", result.Pushed)
	fmt.Printf("Fetched: %d\n", result.Fetched)
	fmt.Printf("Failed:  %d\n", result.Failed)
}

func cmdConflicts(e *env, jsonOut bool) {
	conflicts, err := e.db.PendingConflicts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(conflicts)
		return
	}
	if len(conflicts) == 0 {
		fmt.Println("No pending conflicts.")
		return
	}
	for _, c := range conflicts {
		when := time.UnixMilli(c.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Printf("#%d reading=%s detected=%s\n", c.ID, c.ReadingID, when)
		fmt.Printf("  local:  %s\n", c.LocalVersion)
		fmt.Printf("  server: %s\n", c.ServerVersion)
	}
}

func cmdResolve(e *env, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	id := fs.Int64("id", 0, "conflict id")
	strategy := fs.String("strategy", "", "keep-mine, keep-server or keep-both")
	_ = fs.Parse(args)

	if *id == 0 || *strategy == "" {
		fmt.Fprintln(os.Stderr, "usage: glucologctl resolve --id <n> --strategy keep-mine|keep-server|keep-both")
		os.Exit(1)
	}
	if err := e.engine.ResolveConflict(*id, intsync.Strategy(*strategy)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(map[string]any{"resolved": *id, "strategy": *strategy})
		return
	}
	fmt.Printf("Conflict #%d resolved (%s)\n", *id, *strategy)
}

func cmdAudit(e *env, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum rows")
	_ = fs.Parse(args)

	entries, err := e.db.ListAudit(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return
	}
	for _, entry := range entries {
		when := time.UnixMilli(entry.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Printf("%s %-18s reading=%s %s\n", when, entry.Action, entry.ReadingID, entry.Detail)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
