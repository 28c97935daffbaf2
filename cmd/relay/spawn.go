package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/store"
)

var spawnCommand = &cli.Command{
	Name:      "spawn",
	Usage:     "queue a task for the executor and print its id",
	ArgsUsage: "<message>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "category",
			Aliases: []string{"c"},
			Usage:   "skip classification and use this category",
		},
		&cli.StringFlag{
			Name:    "priority",
			Aliases: []string{"p"},
			Usage:   "critical, high, medium or low",
			Value:   store.PriorityMedium,
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "preferred model, tried before category candidates",
		},
		&cli.StringSliceFlag{
			Name:  "after",
			Usage: "task id this task waits for (repeatable)",
		},
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "attempt budget, 0 uses the configured default",
		},
		jsonFlag,
	},
	Action: runSpawn,
}

func runSpawn(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	msg, err := messageArg(c)
	if err != nil {
		return err
	}

	id, err := a.AddTask(c.Context, queue.TaskInput{
		Prompt:         msg,
		Category:       c.String("category"),
		Priority:       c.String("priority"),
		PreferredModel: c.String("model"),
		DependsOn:      c.StringSlice("after"),
		MaxAttempts:    c.Int("max-attempts"),
	})
	if err != nil {
		return err
	}

	tk, err := a.GetTask(id)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c, tk)
	}

	fmt.Fprintf(c.App.Writer, "%s %s  %s/%s  %s\n",
		glyph(tk.Status), tk.ID, tk.Category, tk.Priority, truncate(tk.Title, 48))
	if tk.Status == store.StatusBlocked {
		fmt.Fprintf(c.App.Writer, "  waiting on %s\n", tk.BlockedBy)
	}
	return nil
}
