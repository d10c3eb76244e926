package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/trace"
)

// simulator drives one conversation from a line-oriented reader.
type simulator struct {
	orch           *flow.Orchestrator
	conversationID string
	traceDir       string
	csvDir         string
	now            func() time.Time
}

func newSimulator(orch *flow.Orchestrator, traceDir, csvDir string) *simulator {
	return &simulator{
		orch:           orch,
		conversationID: "sim-" + uuid.NewString(),
		traceDir:       traceDir,
		csvDir:         csvDir,
		now:            time.Now,
	}
}

const helpText = "Commands: trace, save, export, exit"

// run reads parent turns until exit, EOF, or the closing summary.
func (s *simulator) run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := s.orch.Scenario()
	fmt.Fprintln(out, cfg.Intro())
	fmt.Fprintln(out, helpText)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nParent: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "trace":
			if err := s.printHistory(ctx, out); err != nil {
				return err
			}
			continue
		case "save":
			if err := s.export(ctx, out, true, false); err != nil {
				return err
			}
			continue
		case "export":
			if err := s.export(ctx, out, false, true); err != nil {
				return err
			}
			continue
		}

		result, err := s.orch.ProcessTurn(ctx, s.conversationID, line, "")
		if err != nil {
			if errors.Is(err, models.ErrConversationFinished) {
				fmt.Fprintln(out, "The scenario is over.")
				return nil
			}
			var invalid *flow.InvalidDecisionError
			if errors.As(err, &invalid) {
				fmt.Fprintf(out, "The facilitator reply could not be read (%s). Please send your message again.\n", invalid.Reason)
				continue
			}
			return err
		}
		for _, l := range result.Bundle.Lines() {
			fmt.Fprintln(out, l)
		}
		if result.Bundle.EndScenario {
			return s.export(ctx, out, true, true)
		}
	}
}

func (s *simulator) printHistory(ctx context.Context, out io.Writer) error {
	history, err := s.orch.History(ctx, s.conversationID)
	if err != nil {
		return err
	}
	p := flow.Project(history, s.orch.Scenario().Scenario.ConversationInitiator)
	fmt.Fprintln(out, p.FullHistory)
	return nil
}

func (s *simulator) export(ctx context.Context, out io.Writer, yamlOut, csvOut bool) error {
	history, err := s.orch.History(ctx, s.conversationID)
	if err != nil {
		return err
	}
	doc := trace.Build(s.orch.Scenario().Scenario.ConversationInitiator, history)
	now := s.now()
	if yamlOut {
		path, err := trace.SaveYAML(s.traceDir, doc, now)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Trace saved to", path)
	}
	if csvOut {
		path, err := trace.SaveCSV(s.csvDir, doc, now)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "CSV exported to", path)
	}
	return nil
}
