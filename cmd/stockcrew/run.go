package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/crew"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/runtime"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		ticket    string
		graphPath string
		withTrace bool
		inputs    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the crew once for a ticker",
		Example: `  stockcrew run --ticket AAPL
  stockcrew run --ticket BTC --trace --json
  stockcrew run --ticket MSFT --set scheduler.process=sequential`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), c.cfg, graphPath, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runInputs := make(map[string]string, len(inputs)+1)
			for k, v := range inputs {
				runInputs[k] = v
			}
			if ticket != "" {
				runInputs[crew.InputTicket] = strings.ToUpper(strings.TrimSpace(ticket))
			}

			result, runErr := a.coordinator.Kickoff(cmd.Context(), runInputs)
			out := cmd.OutOrStdout()
			if c.flags.JSON {
				if err := printJSON(out, runtime.NewPayload(result, runErr, withTrace)); err != nil {
					return err
				}
				return runErr
			}
			if runErr != nil {
				if withTrace && result != nil {
					printTrace(out, result.Trace)
				}
				return runErr
			}
			fmt.Fprintln(out, result.Result)
			if withTrace {
				fmt.Fprintln(out)
				printTrace(out, result.Trace)
				printDelegations(out, result.Delegations)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&ticket, "ticket", "t", "", "stock ticker, e.g. AAPL")
	cmd.Flags().StringToStringVar(&inputs, "input", nil, "extra run inputs as key=value")
	cmd.Flags().StringVar(&graphPath, "graph", "", "task graph file (yaml or json) replacing the bundled crew graph")
	cmd.Flags().BoolVar(&withTrace, "trace", false, "include the execution trace")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTrace(w io.Writer, entries []planner.TraceEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Task", "Agent", "Attempt", "Status", "Iterations", "Tools", "Duration", "Error"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.TaskID,
			e.Agent,
			e.Attempt,
			e.Status,
			e.Iterations,
			e.ToolAttempts,
			e.Duration.Round(time.Millisecond),
			e.ErrorCode,
		})
	}
	tw.Render()
}

func printDelegations(w io.Writer, records []planner.DelegationRecord) {
	if len(records) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Task", "From", "Candidate", "Accepted", "Reason"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.TaskID, r.From, r.Candidate, r.Accepted, r.Reason})
	}
	tw.Render()
}
