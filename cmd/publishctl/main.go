// Command publishctl inspects and backfills the idempotency store of a publish service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/shared/logger"
)

const usage = `usage: publishctl [-config path] <command> [flags]

commands:
  stats  [-class name]                     aggregate counts of processed records
  check  -class name -key content_key      report whether a key was published
  list   [-class name]                     list processed records, newest first
  mark   -class name -key content_key [-task id]
                                           record a publish that happened outside the service
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	defaultConfigPath := os.Getenv("PUBLISH_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/publish-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(context.Background(), *configPath, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, configPath string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.ValidateStore(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:  "warn",
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := idempotency.Open(ctx, &cfg.Idempotency, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open idempotency store: %w", err)
	}
	defer store.Close()

	return dispatchCommand(ctx, store, args[0], args[1:], out)
}

func dispatchCommand(ctx context.Context, store idempotency.Store, command string, args []string, out io.Writer) error {
	switch command {
	case "stats":
		return statsCommand(ctx, store, args, out)
	case "check":
		return checkCommand(ctx, store, args, out)
	case "list":
		return listCommand(ctx, store, args, out)
	case "mark":
		return markCommand(ctx, store, args, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected arguments %s", errUsage, fs.Name(), strings.Join(fs.Args(), " "))
	}
	return nil
}

func statsCommand(ctx context.Context, store idempotency.Store, args []string, out io.Writer) error {
	fs := newFlagSet("stats")
	class := fs.String("class", "", "job class (all classes when empty)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	stats, err := store.Stats(ctx, *class)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	return writeJSON(out, stats)
}

func checkCommand(ctx context.Context, store idempotency.Store, args []string, out io.Writer) error {
	fs := newFlagSet("check")
	class := fs.String("class", "", "job class")
	key := fs.String("key", "", "content key")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *class == "" || *key == "" {
		return fmt.Errorf("%w: check: -class and -key are required", errUsage)
	}

	processed, err := store.IsProcessed(ctx, *key, *class)
	if err != nil {
		return fmt.Errorf("failed to check key: %w", err)
	}
	return writeJSON(out, map[string]interface{}{
		"content_key": *key,
		"job_class":   *class,
		"processed":   processed,
	})
}

func listCommand(ctx context.Context, store idempotency.Store, args []string, out io.Writer) error {
	fs := newFlagSet("list")
	class := fs.String("class", "", "job class (all classes when empty)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	records, err := store.ListProcessed(ctx, *class)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB CLASS\tCONTENT KEY\tTASK ID\tCREATED AT")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.JobClass, rec.ContentKey, rec.TaskID, rec.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func markCommand(ctx context.Context, store idempotency.Store, args []string, out io.Writer) error {
	fs := newFlagSet("mark")
	class := fs.String("class", "", "job class")
	key := fs.String("key", "", "content key")
	task := fs.String("task", "manual", "task id recorded as the claimant")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *class == "" || *key == "" {
		return fmt.Errorf("%w: mark: -class and -key are required", errUsage)
	}

	if err := store.MarkProcessed(ctx, *key, *class, *task); err != nil {
		return fmt.Errorf("failed to mark key: %w", err)
	}
	fmt.Fprintf(out, "marked %s for %s\n", *key, *class)
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
