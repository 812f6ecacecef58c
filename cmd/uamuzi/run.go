package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/uamuzi/internal/config"
	"github.com/jkaninda/uamuzi/internal/engine"
	"github.com/jkaninda/uamuzi/internal/storage"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Exit codes for the run command.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitRejected = 2
)

var (
	runMessage    string
	runConfigPath string
	runCorrID     string
	runTimeout    int
	runJSON       bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a request through the workflow locally and print the result",
	Long: `Run a single request through the agent workflow without starting
the gateway. Step events are printed to stderr as the run progresses;
the final result is printed to stdout.

Examples:
  uamuzi run -m "which ports does the payments service expose?"
  uamuzi run -m "deploy nginx 1.27 to production" --timeout 600
  uamuzi run -m "add a readiness probe to the api deployment" --json

Exit codes:
  0  run completed
  1  run failed
  2  deployment request rejected`,
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "request to process (required)")
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().StringVar(&runCorrID, "correlation-id", "", "correlation ID for tracing (generated if empty)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 600, "timeout in seconds")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final run record as JSON")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "enable debug logging")

	_ = runCmd.MarkFlagRequired("message")
}

func runWorkflow(_ *cobra.Command, _ []string) error {
	if runMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	level := slog.LevelWarn
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(goutils.Env("UAMUZI_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(runTimeout)*time.Second)
	defer cancel()

	corrID := runCorrID
	if corrID == "" {
		var b [8]byte
		_, _ = rand.Read(b[:])
		corrID = hex.EncodeToString(b[:])
	}

	run, events, err := eng.SubmitWithEvents(ctx, runMessage, corrID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	fmt.Fprintf(os.Stderr, "run %s started [correlation_id=%s]\n", run.ID, corrID)

stream:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break stream
			}
			if ev.ErrMsg != "" {
				fmt.Fprintf(os.Stderr, "  step %d: %s -> %s (error: %s)\n", ev.Step, ev.Node, ev.Next, ev.ErrMsg)
			} else {
				fmt.Fprintf(os.Stderr, "  step %d: %s -> %s\n", ev.Step, ev.Node, ev.Next)
			}
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "Error: timed out after %ds; run %s continues in the background\n", runTimeout, run.ID)
			os.Exit(ExitFailure)
		}
	}

	// The subscription closes only after the final record is durable.
	final, err := eng.Store().Runs().Get(context.Background(), run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading run result: %v\n", err)
		os.Exit(ExitFailure)
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}
		if final.Status != storage.RunCompleted {
			os.Exit(ExitFailure)
		}
		return nil
	}

	printOutcome(final)
	return nil
}

// printOutcome writes a human-readable result and exits with a code
// reflecting the run outcome.
func printOutcome(run *storage.Run) {
	if run.Status != storage.RunCompleted {
		fmt.Fprintf(os.Stderr, "Error: run %s: %s\n", run.Status, run.LastError)
		os.Exit(ExitFailure)
	}

	var state workflow.State
	if len(run.Snapshot) > 0 {
		_ = json.Unmarshal(run.Snapshot, &state)
	}

	exitCode := ExitSuccess
	switch workflow.RequestType(run.RequestType) {
	case workflow.RequestInformationQuery:
		if state.ResearchData != nil && state.ResearchData.Result != "" {
			fmt.Println(state.ResearchData.Result)
		} else if state.ResearchData != nil {
			fmt.Println(state.ResearchData.Summary)
		} else {
			fmt.Println(lastAssistantMessage(&state))
		}

	case workflow.RequestDeploymentDecision:
		if d := state.DecisionReport; d != nil {
			verdict := "REJECTED"
			if d.Approved {
				verdict = "APPROVED"
			} else {
				exitCode = ExitRejected
			}
			fmt.Printf("decision: %s\n", verdict)
			if d.Reasoning != "" {
				fmt.Printf("reasoning: %s\n", d.Reasoning)
			}
			if d.ToolName != "" {
				fmt.Printf("tool: %s\n", d.ToolName)
			}
		} else {
			fmt.Println(lastAssistantMessage(&state))
		}
		if run.ImplementationPrompt != "" {
			fmt.Printf("\n%s\n", run.ImplementationPrompt)
		}

	case workflow.RequestGeneralTask:
		if run.ImplementationPrompt != "" {
			fmt.Println(run.ImplementationPrompt)
		} else {
			fmt.Println(lastAssistantMessage(&state))
		}

	default:
		fmt.Println(lastAssistantMessage(&state))
	}

	fmt.Fprintf(os.Stderr, "\n[run=%s iterations=%d tokens=%d]\n",
		run.ID, run.IterationCount, run.TokensUsed)
	os.Exit(exitCode)
}

// lastAssistantMessage returns the newest non-user transcript entry.
func lastAssistantMessage(state *workflow.State) string {
	for i := len(state.Messages) - 1; i > 0; i-- {
		if state.Messages[i].Role != workflow.RoleUser {
			return state.Messages[i].Content
		}
	}
	return "(no output)"
}
