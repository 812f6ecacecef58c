// Command uamuzi runs multi-agent LLM decision workflows for Kubernetes teams.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "uamuzi",
	Short: "Multi-agent LLM decision workflows for Kubernetes and platform teams",
	Long: `Uamuzi runs user requests through a graph of specialized agents
(orchestrator, planning, research, decision, review, code, prompt generator)
that classify the request, gather evidence with sandboxed tools, and produce
an approve/reject decision or an implementation prompt.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
