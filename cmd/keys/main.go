// Command keys administers the product key pool from the command line.
//
//	keys import <file>        provision keys from a YAML or JSON file
//	keys list [-limit n] [-offset n]
//	keys stats
//	keys deactivate <key>
//	keys promote-admin <email>
//	keys users [-limit n] [-offset n]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohitmehta601/agricure/internal/config"
	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/models"
	"github.com/mohitmehta601/agricure/internal/repositories"
	"github.com/mohitmehta601/agricure/internal/services"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
)

const cliActor = "cli"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keys <import|list|stats|deactivate|promote-admin|users> [args]")
}

func run(ctx context.Context, cmd string, args []string, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	licenses := services.NewLicenseService(
		repositories.NewLicenseKeyRepository(db),
		logger,
		pkglogger.NewAuditLogger(logger),
	)

	switch cmd {
	case "import":
		return importKeys(ctx, licenses, args)
	case "list":
		return listKeys(ctx, licenses, args)
	case "stats":
		stats, err := licenses.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "deactivate":
		if len(args) != 1 {
			return errors.New("usage: keys deactivate <key>")
		}
		key, err := licenses.DeactivateByKey(ctx, cliActor, args[0])
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("product key %q not found", args[0])
			}
			return err
		}
		return printJSON(key)
	case "promote-admin":
		if len(args) != 1 {
			return errors.New("usage: keys promote-admin <email>")
		}
		users := repositories.NewUserRepository(db)
		if err := users.SetRoleByEmail(ctx, args[0], models.RoleAdmin); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("no account for %s", args[0])
			}
			return err
		}
		fmt.Printf("%s is now an admin\n", args[0])
		return nil
	case "users":
		return listUsers(ctx, repositories.NewUserRepository(db), args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func importKeys(ctx context.Context, licenses *services.LicenseService, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: keys import <file>")
	}

	entries, err := loadKeyFile(args[0])
	if err != nil {
		return err
	}

	report, err := licenses.Provision(ctx, cliActor, entries)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d keys failed", len(report.Failed), len(entries))
	}
	return nil
}

func listKeys(ctx context.Context, licenses *services.LicenseService, args []string) error {
	limit, offset, err := parsePaging("list", args)
	if err != nil {
		return err
	}

	keys, err := licenses.List(ctx, limit, offset)
	if err != nil {
		return err
	}
	return printJSON(keys)
}

func listUsers(ctx context.Context, users *repositories.UserRepository, args []string) error {
	limit, offset, err := parsePaging("users", args)
	if err != nil {
		return err
	}

	list, err := users.List(ctx, limit, offset)
	if err != nil {
		return err
	}

	profiles := make([]models.UserProfile, 0, len(list))
	for _, u := range list {
		profiles = append(profiles, u.Profile())
	}
	return printJSON(profiles)
}

func parsePaging(name string, args []string) (limit, offset int, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.IntVar(&limit, "limit", 50, "maximum rows to show")
	fs.IntVar(&offset, "offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
