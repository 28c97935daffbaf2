package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/router"
	"github.com/antigravity-dev/relay/internal/store"
)

var initCommand = &cli.Command{
	Name:   "init",
	Usage:  "create the data directory, default config, store schema and seed data",
	Flags:  []cli.Flag{jsonFlag},
	Action: runInit,
}

type initReport struct {
	ConfigPath    string `json:"config_path"`
	ConfigCreated bool   `json:"config_created"`
	DataDir       string `json:"data_dir"`
	StorePath     string `json:"store_path"`
	ModelsSeeded  int    `json:"models_seeded"`
	AgentsSeeded  int    `json:"agents_seeded"`
}

func runInit(c *cli.Context) error {
	path := c.String("config")

	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		created = true
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir(), err)
	}

	// app.New opens the store, which runs schema and migrations, and seeds
	// a rate window per configured model.
	a, err := app.New(config.NewManager(cfg), configureLogger("error", c.Bool("dev")))
	if err != nil {
		return err
	}
	defer a.Close()

	seeded := 0
	for name, ag := range cfg.Agents {
		if _, err := a.Store().UpsertAgent(&store.Agent{Name: name, Model: ag.Model, Role: ag.Role}); err != nil {
			return fmt.Errorf("seed agent %s: %w", name, err)
		}
		seeded++
	}

	rep := initReport{
		ConfigPath:    path,
		ConfigCreated: created,
		DataDir:       cfg.DataDir(),
		StorePath:     cfg.StorePath(),
		ModelsSeeded:  len(cfg.Models),
		AgentsSeeded:  seeded,
	}
	if c.Bool("json") {
		return printJSON(c, rep)
	}

	state := "existing"
	if created {
		state = "created"
	}
	fmt.Fprintf(c.App.Writer, "✓ config    %s (%s)\n", rep.ConfigPath, state)
	fmt.Fprintf(c.App.Writer, "✓ data dir  %s\n", rep.DataDir)
	fmt.Fprintf(c.App.Writer, "✓ store     %s\n", rep.StorePath)
	fmt.Fprintf(c.App.Writer, "✓ seeded    %d rate windows, %d agents\n", rep.ModelsSeeded, rep.AgentsSeeded)
	return nil
}

var configCommand = &cli.Command{
	Name:   "config",
	Usage:  "print the resolved configuration",
	Flags:  []cli.Flag{jsonFlag},
	Action: runConfigShow,
	Subcommands: []*cli.Command{
		{
			Name:      "set",
			Usage:     "set a quick key in the config file",
			ArgsUsage: "<key> <value>",
			Flags:     []cli.Flag{jsonFlag},
			Action:    runConfigSet,
		},
	},
}

func runConfigShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c, cfg)
	}
	return toml.NewEncoder(c.App.Writer).Encode(cfg)
}

func runConfigSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: relay config set <key> <value> (settable: %s)",
			strings.Join(quickKeyNames(), ", "))
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	changed, err := setQuickKey(c.String("config"), key, value)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(c, map[string]any{"key": key, "value": value, "changed": changed})
	}
	if !changed {
		fmt.Fprintf(c.App.Writer, "· %s already %s\n", key, value)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "✓ %s = %s\n", key, value)
	return nil
}

var agentsCommand = &cli.Command{
	Name:   "agents",
	Usage:  "list the agent registry",
	Flags:  []cli.Flag{jsonFlag},
	Action: runAgents,
}

func runAgents(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := a.Store().ListAgents()
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c, agents)
	}

	if len(agents) == 0 {
		fmt.Fprintln(c.App.Writer, "no agents registered, run `relay init`")
		return nil
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tROLE\tSCORE\tLAST USED")
	for _, ag := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", ag.Name, ag.Model, ag.Role, ag.Score, ago(ag.LastUsed))
	}
	return tw.Flush()
}

var categoriesCommand = &cli.Command{
	Name:   "categories",
	Usage:  "list task categories, their models and keyword samples",
	Flags:  []cli.Flag{jsonFlag},
	Action: runCategories,
}

type categoryInfo struct {
	Category string   `json:"category"`
	Models   []string `json:"models"`
	Keywords []string `json:"keywords"`
}

func runCategories(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	infos := make([]categoryInfo, 0, len(config.Categories))
	for _, cat := range config.Categories {
		models := append([]string(nil), cfg.Categories[cat]...)
		sort.Strings(models)
		infos = append(infos, categoryInfo{
			Category: cat,
			Models:   models,
			Keywords: router.Keywords(cat),
		})
	}
	if c.Bool("json") {
		return printJSON(c, infos)
	}

	for _, info := range infos {
		models := "(no models configured)"
		if len(info.Models) > 0 {
			models = strings.Join(info.Models, ", ")
		}
		fmt.Fprintf(c.App.Writer, "%-12s %s\n", info.Category, models)
		fmt.Fprintf(c.App.Writer, "%-12s keywords: %s\n", "", keywordSample(info.Keywords, 6))
	}
	return nil
}

func keywordSample(words []string, n int) string {
	if len(words) <= n {
		return strings.Join(words, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(words[:n], ", "), len(words)-n)
}
