package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/angelmondragon/payintents-backend/internal/bootstrap"
	"github.com/angelmondragon/payintents-backend/pkg/db"
	"github.com/angelmondragon/payintents-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version; empty prints the current one")
	flag.Parse()

	if err := run(*cmd, *dir, *name, *target); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd, dir, name, target string) error {
	// create and validate only touch files.
	switch cmd {
	case "create":
		if name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(dir, name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.Validate(os.DirFS(dir)); err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	}

	rt, err := bootstrap.Start("migrate")
	if err != nil {
		return err
	}
	ctx := rt.Logger.WithFields(context.Background(), map[string]any{
		"env": rt.Config.App.Env,
		"cmd": cmd,
		"dir": dir,
	})

	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.SQL()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, os.DirFS(dir), rt.Logger)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%-8s %-25s %s\n", st.State, applied, st.Source.Path)
		}
		return nil
	case "version":
		if target == "" {
			v, err := runner.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}
		v, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid -version %q: %w", target, err)
		}
		return runner.To(ctx, v)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
