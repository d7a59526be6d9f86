// Command verify drives a headless browser through verification scripts against
// the handover to-do application and records screenshots, a report and run history.
//
//	verify [flags] [script ...]
//
// With no script names every registered script runs. The exit status is 0 when
// all runs passed, otherwise it reflects the first failure: 2 invalid arguments,
// 3 navigation timeout, 4 element not found, 5 assertion failed, 6 browser
// unavailable, 1 anything else.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/handover-verify/internal/config"
	"github.com/kuitang/handover-verify/internal/errs"
	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/verify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return errs.ExitCode(errs.InvalidArgument)
	}

	registry, err := buildRegistry(flags.Checklists)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return errs.ExitCode(errs.InvalidArgument)
	}
	if flags.List {
		printScripts(stdout, registry)
		return 0
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return errs.ExitCode(errs.InvalidArgument)
	}
	obs.Init()
	log := obs.Pkg("main")

	var selected []verify.Script
	if cfg.MCPAddr == "" {
		selected, err = registry.Select(flags.Scripts)
		if err != nil {
			fmt.Fprintf(stderr, "verify: %v\n", errs.MessageOf(err))
			return errs.ExitCode(errs.InvalidArgument)
		}
	}

	cfg.PrintStartupSummary(stderr)
	a, err := newApp(ctx, cfg, registry)
	if err != nil {
		log.Error("startup_failed", "error", err)
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return errs.ExitCode(errs.CodeOf(err))
	}
	defer a.Close()

	if cfg.MCPAddr != "" {
		if err := a.serveMCP(ctx); err != nil {
			log.Error("mcp_server_failed", "error", err)
			return 1
		}
		return 0
	}

	results := a.runner.RunAll(ctx, selected)
	a.finish(ctx, results)
	for _, res := range results {
		fmt.Fprintln(stdout, summaryLine(res))
	}
	if ctx.Err() != nil && len(results) < len(selected) {
		log.Warn("run_interrupted", "completed", len(results), "selected", len(selected))
	}
	return exitCode(results, len(selected))
}

func printScripts(w io.Writer, registry *verify.Registry) {
	for _, s := range registry.List() {
		if s.Description != "" {
			fmt.Fprintf(w, "%-18s %s\n", s.Name, s.Description)
		} else {
			fmt.Fprintln(w, s.Name)
		}
	}
}

func summaryLine(res *verify.Result) string {
	if res.Passed() {
		return fmt.Sprintf("PASS %s (%s)", res.Script, res.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("FAIL %s: %s: %s", res.Script, res.Code, res.Message)
}

// exitCode reports the first failure's code. Scripts skipped by an interrupt
// count as a failure.
func exitCode(results []*verify.Result, selected int) int {
	for _, res := range results {
		if !res.Passed() {
			return errs.ExitCode(res.Code)
		}
	}
	if len(results) < selected {
		return 1
	}
	return 0
}
