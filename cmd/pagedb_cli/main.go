package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/pkg/logger"
)

var (
	dbPath   = flag.String("db", "", "Database file to inspect or modify")
	pageSize = flag.Int("page_size", pagefile.DefaultPageSize, "Page size used when creating a new file")
	logLevel = flag.String("log_level", "warn", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	log, _, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr", Service: "pagedb-cli"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	c := newCLI(*dbPath, *pageSize, logger.Component(log, "store"), os.Stdout)
	defer func() {
		if err := c.close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}()

	ctx := context.Background()
	if args := flag.Args(); len(args) > 0 {
		if err := c.processCommand(ctx, args); err != nil && !errors.Is(err, errExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := repl(ctx, c, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// repl runs the interactive mode until exit or EOF.
func repl(ctx context.Context, c *cli, log *zap.Logger) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagedb> ",
		HistoryFile:     filepath.Join(home, ".pagedb_history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(c.out, "pagedb CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if err := c.processCommand(ctx, args); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			log.Debug("command failed", zap.Strings("args", args), zap.Error(err))
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("info"),
		readline.PcItem("roots"),
		readline.PcItem("header"),
		readline.PcItem("page"),
		readline.PcItem("tree"),
		readline.PcItem("dump"),
		readline.PcItem("get"),
		readline.PcItem("insert"),
		readline.PcItem("load"),
		readline.PcItem("append"),
		readline.PcItem("backup"),
		readline.PcItem("remote"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}
