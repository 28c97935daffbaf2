package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/router"
	"github.com/antigravity-dev/relay/internal/store"
)

var selectCommand = &cli.Command{
	Name:      "select",
	Usage:     "pick the model a message should run on, without queueing it",
	ArgsUsage: "<message>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "agent",
			Aliases: []string{"a"},
			Usage:   "force the named agent's model ahead of category candidates",
		},
		&cli.StringFlag{
			Name:    "category",
			Aliases: []string{"c"},
			Usage:   "skip classification and use this category",
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "read the message from a file instead of arguments",
		},
		jsonFlag,
	},
	Action: runSelect,
}

var routeCommand = &cli.Command{
	Name:      "route",
	Usage:     "classify a message and print its candidate models",
	ArgsUsage: "<message>",
	Flags:     []cli.Flag{jsonFlag},
	Action:    runRoute,
}

// messageArg resolves the prompt text: --file wins when set, otherwise the
// positional arguments are joined so unquoted multi-word messages work.
func messageArg(c *cli.Context) (string, error) {
	if path := c.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			return "", fmt.Errorf("%s is empty", path)
		}
		return msg, nil
	}
	msg := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if msg == "" {
		return "", fmt.Errorf("message required (argument or --file)")
	}
	return msg, nil
}

type selectReport struct {
	Model          string   `json:"model"`
	Available      bool     `json:"available"`
	RetryInSeconds float64  `json:"retry_in_seconds,omitempty"`
	Category       string   `json:"category"`
	Confidence     float64  `json:"confidence,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Agent          string   `json:"agent,omitempty"`
	Candidates     []string `json:"candidates"`
}

func runSelect(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	msg, err := messageArg(c)
	if err != nil {
		return err
	}

	var preferred, agentName string
	if name := c.String("agent"); name != "" {
		ag, err := a.Store().GetAgentByName(name)
		if err != nil {
			return err
		}
		if ag == nil {
			return fmt.Errorf("unknown agent %q, see `relay agents`", name)
		}
		preferred, agentName = ag.Model, ag.Name
		if err := a.Store().TouchAgent(ag.Name); err != nil {
			return err
		}
	}

	cls := router.Classification{Category: c.String("category"), Reason: "category forced"}
	if cls.Category == "" {
		cls = a.Classify(c.Context, msg)
	} else if !store.ValidCategory(cls.Category) {
		return fmt.Errorf("unknown category %q, see `relay categories`", cls.Category)
	}

	candidates := a.Candidates(cls.Category, preferred)
	if len(candidates) == 0 {
		return fmt.Errorf("no models configured for category %q", cls.Category)
	}

	rep := selectReport{
		Category:   cls.Category,
		Confidence: cls.Confidence,
		Reason:     cls.Reason,
		Agent:      agentName,
		Candidates: candidates,
	}
	for _, m := range candidates {
		ok, err := a.Coordinator().IsAvailable(m)
		if err != nil {
			return err
		}
		if ok {
			rep.Model, rep.Available = m, true
			break
		}
	}
	if !rep.Available {
		// Every candidate is over quota. Report the one that frees first so
		// the caller knows how long to back off.
		var soonest time.Time
		for _, m := range candidates {
			at, err := a.Coordinator().NextAvailable(m)
			if err != nil {
				return err
			}
			if soonest.IsZero() || at.Before(soonest) {
				soonest, rep.Model = at, m
			}
		}
		if wait := time.Until(soonest); wait > 0 {
			rep.RetryInSeconds = wait.Seconds()
		}
	}

	if c.Bool("json") {
		return printJSON(c, rep)
	}

	w := c.App.Writer
	if rep.Available {
		fmt.Fprintf(w, "✓ model     %s\n", rep.Model)
	} else {
		retry := time.Duration(rep.RetryInSeconds * float64(time.Second))
		fmt.Fprintf(w, "✗ model     %s (rate limited, retry in %s)\n", rep.Model, humanDuration(retry))
	}
	fmt.Fprintf(w, "  category  %s (%s)\n", rep.Category, classificationNote(cls))
	if agentName != "" {
		fmt.Fprintf(w, "  agent     %s\n", agentName)
	}
	if rest := fallbacks(candidates, rep.Model); len(rest) > 0 {
		fmt.Fprintf(w, "  fallback  %s\n", strings.Join(rest, ", "))
	}
	return nil
}

func runRoute(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	msg, err := messageArg(c)
	if err != nil {
		return err
	}

	cls := a.Classify(c.Context, msg)
	candidates := a.Candidates(cls.Category, "")

	if c.Bool("json") {
		return printJSON(c, map[string]any{
			"category":   cls.Category,
			"confidence": cls.Confidence,
			"reason":     cls.Reason,
			"models":     candidates,
		})
	}

	w := c.App.Writer
	fmt.Fprintf(w, "category   %s (confidence %.2f)\n", cls.Category, cls.Confidence)
	fmt.Fprintf(w, "reason     %s\n", cls.Reason)
	models := "(no models configured)"
	if len(candidates) > 0 {
		models = strings.Join(candidates, ", ")
	}
	fmt.Fprintf(w, "models     %s\n", models)
	return nil
}

func classificationNote(cls router.Classification) string {
	if cls.Confidence == 0 {
		return cls.Reason
	}
	return fmt.Sprintf("confidence %.2f, %s", cls.Confidence, cls.Reason)
}

// fallbacks lists the candidates after the chosen model, preserving try
// order.
func fallbacks(candidates []string, chosen string) []string {
	for i, m := range candidates {
		if m == chosen {
			return candidates[i+1:]
		}
	}
	return nil
}
