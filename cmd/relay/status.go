package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/health"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/ratelimit"
	"github.com/antigravity-dev/relay/internal/store"
)

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "executor liveness, queue counts and rate window state",
	Flags:  []cli.Flag{jsonFlag},
	Action: runStatus,
}

var resultsCommand = &cli.Command{
	Name:  "results",
	Usage: "recent executions with duration, tokens and cost",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "how many executions to show",
			Value:   20,
		},
		jsonFlag,
	},
	Action: runResults,
}

type statusReport struct {
	Executor *health.Status  `json:"executor"`
	Queue    app.QueueStatus `json:"queue"`
}

func runStatus(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	execSt, err := a.GetExecutorStatus()
	if err != nil {
		return err
	}
	qs, err := a.GetQueueStatus()
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(c, statusReport{Executor: execSt, Queue: qs})
	}

	w := c.App.Writer
	fmt.Fprintf(w, "executor  %s\n", executorLine(execSt))
	if execSt != nil && execSt.Running {
		fmt.Fprintf(w, "          %d in flight, %d completed today, %d failed today\n",
			len(execSt.CurrentTasks), execSt.CompletedToday, execSt.FailedToday)
	}
	fmt.Fprintf(w, "queue     %s\n", queueLine(qs.Stats))
	if qs.Scheduler.NextTask != "" {
		fmt.Fprintf(w, "next      %s\n", qs.Scheduler.NextTask)
	}

	models := make([]string, 0, len(qs.RateLimits))
	for m := range qs.RateLimits {
		models = append(models, m)
	}
	sort.Strings(models)
	label := "models"
	for _, m := range models {
		fmt.Fprintf(w, "%-8s  %s\n", label, modelLine(m, qs.RateLimits[m]))
		label = ""
	}
	return nil
}

func executorLine(st *health.Status) string {
	switch {
	case st == nil:
		return "○ never started, run `relay daemon`"
	case st.Running && st.Paused:
		return fmt.Sprintf("◐ paused (pid %d, up %s)", st.PID, humanDuration(time.Duration(st.UptimeSeconds)*time.Second))
	case st.Running:
		return fmt.Sprintf("● running (pid %d, up %s)", st.PID, humanDuration(time.Duration(st.UptimeSeconds)*time.Second))
	default:
		return "○ stopped"
	}
}

func queueLine(stats queue.Stats) string {
	if stats.Total == 0 {
		return "empty"
	}
	order := []string{
		store.StatusRunning, store.StatusScheduled, store.StatusPending,
		store.StatusBlocked, store.StatusCompleted, store.StatusFailed,
		store.StatusCancelled,
	}
	parts := make([]string, 0, len(order))
	for _, st := range order {
		if n := stats.ByStatus[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	return fmt.Sprintf("%s (%d total)", strings.Join(parts, ", "), stats.Total)
}

func modelLine(model string, ms ratelimit.ModelStatus) string {
	reset := humanDuration(time.Duration(ms.ResetsIn * float64(time.Second)))
	if ms.Available {
		return fmt.Sprintf("%s %d/%d, resets in %s", model, ms.Used, ms.Limit, reset)
	}
	return fmt.Sprintf("%s exhausted (%d/%d), resets in %s", model, ms.Used, ms.Limit, reset)
}

func runResults(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	execs, err := a.Store().RecentExecutions(c.Int("limit"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c, execs)
	}

	if len(execs) == 0 {
		fmt.Fprintln(c.App.Writer, "no executions recorded yet")
		return nil
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTASK\tMODEL\tOK\tDURATION\tTOKENS\tCOST")
	for _, x := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			ago(x.StartedAt), x.TaskID, x.Model, okGlyph(x.Success),
			execDuration(x), x.TokensUsed, fmtCost(x.CostUSD))
	}
	return tw.Flush()
}

func execDuration(x store.Execution) string {
	if x.CompletedAt == 0 {
		return "running"
	}
	return humanDuration(time.Duration(x.CompletedAt-x.StartedAt) * time.Millisecond)
}
