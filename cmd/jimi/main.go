// Command jimi is a minimal demo that wires one session of the core
// end-to-end: history, registry, approval, wire, facade, dmail and soul.
// Flag parsing is intentionally thin (model/workdir/yolo only); full
// CLI argument parsing is out of this core's scope.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leavesfly/jimi/internal/compaction"
	"github.com/leavesfly/jimi/internal/logging"
	"github.com/leavesfly/jimi/internal/provider/anthropic"
	"github.com/leavesfly/jimi/internal/session"
	"github.com/leavesfly/jimi/internal/toolschema"
	"github.com/leavesfly/jimi/internal/tools"
	"github.com/leavesfly/jimi/pkg/approval"
	"github.com/leavesfly/jimi/pkg/dmail"
	"github.com/leavesfly/jimi/pkg/history"
	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
	"github.com/leavesfly/jimi/pkg/soul"
	"github.com/leavesfly/jimi/pkg/wire"
)

func main() {
	model := flag.String("m", "claude-sonnet-4-5", "model name to use")
	workDir := flag.String("workdir", ".", "working directory for file/bash tools")
	yolo := flag.Bool("yolo", false, "auto-approve every tool request")
	flag.Parse()

	log := logging.NewComponentLogger("cmd.jimi")

	absWorkDir, err := filepath.Abs(*workDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve workdir:", err)
		os.Exit(1)
	}
	sess := session.New(absWorkDir, filepath.Join(absWorkDir, ".jimi", "history.jsonl"))
	if err := os.MkdirAll(filepath.Dir(sess.HistoryFilePath), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create session dir:", err)
		os.Exit(1)
	}

	bus := wire.NewBus()
	gate := approval.New(bus, *yolo)
	reg := registry.New()
	_ = reg.Register(tools.NewBash(sess.WorkDir, []string{"ls", "pwd", "cat", "git status"}, gate, toolschema.For(&tools.BashArguments{})))
	_ = reg.Register(tools.NewReadFile(sess.WorkDir, toolschema.For(&tools.ReadFileArguments{})))

	store := history.New(sess.HistoryFilePath)
	if restored, err := store.Restore(); err != nil {
		fmt.Fprintln(os.Stderr, "restore history:", err)
		os.Exit(1)
	} else if restored {
		log.InfoWithIntention(logging.IntentionStatus, "restored prior session history", "path", sess.HistoryFilePath)
	}

	provider, err := anthropic.New(*model, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "construct provider:", err)
		os.Exit(1)
	}
	facade := llm.New(provider)
	mail := dmail.New()

	compactor := compaction.New(facade)
	driver := soul.New(store, reg, gate, bus, facade, mail, compactor, soul.RunOptions{
		MaxStepsPerRun:  50,
		MaxContextSize:  200000,
		CompactionRatio: 0.7,
		YOLO:            *yolo,
	})

	events, cancel := driver.Subscribe(128)
	defer cancel()
	go func() {
		for e := range events {
			switch e.Type {
			case wire.EventContentPart:
				if e.Part.Part.Type == message.PartText {
					fmt.Print(e.Part.Part.Text)
				}
			case wire.EventStepEnd:
				fmt.Println()
			}
		}
	}()

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("jimi demo — type a message, Ctrl-D to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		if input == "" {
			continue
		}
		result, err := driver.Run(ctx, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			continue
		}
		switch result.Kind {
		case soul.ProviderError:
			fmt.Fprintln(os.Stderr, "provider error:", result.Detail)
		case soul.MaxStepsReached:
			fmt.Fprintln(os.Stderr, "max steps reached")
		case soul.Interrupted:
			fmt.Fprintln(os.Stderr, "interrupted")
		}
	}
}
