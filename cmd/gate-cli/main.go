package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/samijaber1/inquisitor-gate/internal/batch"
	"github.com/samijaber1/inquisitor-gate/internal/config"
	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/gatekeeper"
	"github.com/samijaber1/inquisitor-gate/internal/logging"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
	"github.com/samijaber1/inquisitor-gate/internal/storage"
	"github.com/samijaber1/inquisitor-gate/internal/storage/sqlite"
)

var rulesFlag = &cli.StringFlag{
	Name:    "rules",
	Usage:   "rule-set YAML file, or a directory of rule files",
	Value:   config.DefaultConfig().RulesPath,
	EnvVars: []string{"GATE_RULES"},
}

var dbFlag = &cli.StringFlag{
	Name:    "db",
	Usage:   "path to the SQLite database",
	Value:   config.DefaultConfig().DatabasePath,
	EnvVars: []string{"GATE_DB"},
}

func main() {
	app := cli.App{
		Name:    "gate-cli",
		Usage:   "validate rule sets and run drafts through the policy gate",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"GATE_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			validateCmd,
			rulesCmd,
			checkCmd,
			batchCmd,
			auditCmd,
		},
	}
	app.RunAndExitOnError()
}

func cliLogger(cctx *cli.Context) (zerolog.Logger, error) {
	return logging.New(cctx.String("log-level"), "console")
}

var validateCmd = &cli.Command{
	Name:      "validate",
	Usage:     "validate a rule-set file or directory",
	ArgsUsage: "[path]",
	Flags:     []cli.Flag{rulesFlag},
	Action: func(cctx *cli.Context) error {
		path := cctx.String("rules")
		if cctx.Args().Present() {
			path = cctx.Args().First()
		}

		rs, err := rules.Load(path)
		if err != nil {
			var cfgErr *rules.ConfigError
			if errors.As(err, &cfgErr) {
				printValidationErrors(os.Stderr, cfgErr.Errors)
				return cli.Exit("", 1)
			}
			return err
		}

		fmt.Printf("✓ %d rules valid (digest %s)\n", rs.Len(), rs.Digest()[:12])
		return nil
	},
}

// printValidationErrors prints errors grouped by file
func printValidationErrors(w io.Writer, errs []rules.ValidationError) {
	errorsByFile := make(map[string][]rules.ValidationError)
	for _, err := range errs {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintf(w, "✗ Validation failed with %d error(s):\n\n", len(errs))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			if err.Path != "" {
				fmt.Fprintf(w, "%s: %s: %s\n", filepath.Base(err.File), err.Path, err.Message)
			} else {
				fmt.Fprintf(w, "%s: %s\n", filepath.Base(err.File), err.Message)
			}
		}
	}
}

var rulesCmd = &cli.Command{
	Name:  "rules",
	Usage: "list the compiled rules",
	Flags: []cli.Flag{rulesFlag},
	Action: func(cctx *cli.Context) error {
		rs, err := rules.Load(cctx.String("rules"))
		if err != nil {
			return err
		}

		for i := 0; i < rs.Len(); i++ {
			r := rs.At(i)
			escalated := ""
			if r.Escalated {
				escalated = " (escalated)"
			}
			fmt.Printf("%-8s %-5s %-10s %s%s\n", r.ID, r.Action, r.Category, r.Name, escalated)
		}
		return nil
	},
}

var checkCmd = &cli.Command{
	Name:      "check",
	Usage:     "evaluate a single draft and print the decision",
	ArgsUsage: "<text>",
	Flags: []cli.Flag{
		rulesFlag,
		&cli.StringFlag{
			Name:  "scope",
			Value: gate.DefaultScope,
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "persist the decision to this SQLite database",
		},
	},
	Action: func(cctx *cli.Context) error {
		text := strings.Join(cctx.Args().Slice(), " ")
		if text == "" {
			return cli.Exit("need to provide draft text as an argument", 1)
		}

		logger, err := cliLogger(cctx)
		if err != nil {
			return err
		}

		gk, closeStore, err := openGatekeeper(cctx, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		id, decision, err := gk.Check(gate.Draft{Scope: cctx.String("scope"), Text: text})
		if err != nil {
			return err
		}

		b, err := json.MarshalIndent(struct {
			CheckID  int64          `json:"check_id,omitempty"`
			Decision *gate.Decision `json:"decision"`
		}{id, decision}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))

		if !decision.Allow {
			return cli.Exit("", 2)
		}
		return nil
	},
}

var batchCmd = &cli.Command{
	Name:  "batch",
	Usage: "evaluate a JSONL file of drafts and record every decision",
	Flags: []cli.Flag{
		rulesFlag,
		dbFlag,
		&cli.StringFlag{
			Name:     "input",
			Usage:    "JSONL drafts, or - for stdin",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "write JSONL decisions to this file",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "concurrent evaluations (0 uses GOMAXPROCS)",
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliLogger(cctx)
		if err != nil {
			return err
		}

		gk, closeStore, err := openGatekeeper(cctx, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		var in io.Reader = os.Stdin
		if input := cctx.String("input"); input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()
			in = f
		}

		out := io.Discard
		if output := cctx.String("output"); output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		processor := batch.NewProcessor(gk, cctx.Int("workers"), logger)
		processed, err := processor.Run(cctx.Context, in, out)
		fmt.Printf("Processed %d drafts into policy_checks.\n", processed)
		return err
	},
}

var auditCmd = &cli.Command{
	Name:  "audit",
	Usage: "list recorded decisions",
	Flags: []cli.Flag{
		dbFlag,
		&cli.StringFlag{
			Name:  "since",
			Usage: "only decisions newer than this, e.g. 1h or 7d",
		},
		&cli.StringFlag{Name: "scope"},
		&cli.StringFlag{Name: "verdict"},
		&cli.StringFlag{Name: "rule"},
		&cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(cctx *cli.Context) error {
		store, err := sqlite.NewStore(cctx.String("db"))
		if err != nil {
			return err
		}
		defer store.Close()

		filter := storage.CheckFilter{
			Scope:   cctx.String("scope"),
			Verdict: cctx.String("verdict"),
			RuleID:  cctx.String("rule"),
			Limit:   cctx.Int("limit"),
		}

		if since := cctx.String("since"); since != "" {
			d, err := config.ParseDuration(since)
			if err != nil {
				return err
			}
			start := time.Now().Add(-d)
			filter.StartTime = &start
		}

		records, err := store.QueryChecks(filter)
		if err != nil {
			return err
		}

		for _, r := range records {
			fmt.Printf("%6d  %s  %-5s  %-16s  %s\n",
				r.ID, r.EvaluatedAt.Local().Format(time.RFC3339), r.Verdict, r.Scope, r.Reasons)
		}
		return nil
	},
}

// openGatekeeper loads the rule set and, when a database is configured, attaches storage
func openGatekeeper(cctx *cli.Context, logger zerolog.Logger) (*gatekeeper.Gatekeeper, func(), error) {
	engine := gate.NewEngine(gate.WithLogger(logger))
	gk := gatekeeper.New(engine, cctx.String("rules"), logger)

	closeStore := func() {}
	if dbPath := cctx.String("db"); dbPath != "" {
		store, err := sqlite.NewStore(dbPath)
		if err != nil {
			return nil, nil, err
		}
		gk.SetStorage(store)
		closeStore = func() { store.Close() }
	}

	if err := gk.LoadRules(); err != nil {
		closeStore()
		var cfgErr *rules.ConfigError
		if errors.As(err, &cfgErr) {
			printValidationErrors(os.Stderr, cfgErr.Errors)
			return nil, nil, cli.Exit("", 1)
		}
		return nil, nil, err
	}

	return gk, closeStore, nil
}
