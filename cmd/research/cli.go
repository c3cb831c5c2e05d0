package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	z "github.com/Oudwins/zog"

	"research/internals/backoff"
	"research/internals/core"
	"research/internals/env"
	"research/internals/output"
	"research/internals/researcher"
	"research/internals/schemas"
	"research/internals/store"
	"research/internals/version"
	"research/sdk"
)

var ErrUsage = errors.New("usage:\n  research run <query> [--model <model>] [--parent <interaction-id>] [--output <file>] [--force]\n  research think <query> [--model <model>] [--api-version <version>] [--timeout <seconds>] [--output <file>] [--force]\n  research list\n  research show <id> [--output <file>] [--force]\n  research version")

const (
	recentTasksLimit           = 20
	defaultThinkTimeoutSeconds = 1800
)

type RunArgs struct {
	Query  string `zog:"query"`
	Model  string `zog:"model"`
	Parent string `zog:"parent"`
	Output string `zog:"output"`
	Force  bool   `zog:"force"`
}

type ThinkArgs struct {
	Query      string `zog:"query"`
	Model      string `zog:"model"`
	APIVersion string `zog:"api_version"`
	Timeout    int    `zog:"timeout"`
	Output     string `zog:"output"`
	Force      bool   `zog:"force"`
}

type ShowArgs struct {
	ID     string `zog:"id"`
	Output string `zog:"output"`
	Force  bool   `zog:"force"`
}

var runArgsSchema = z.Struct(z.Shape{
	"Query":  z.String().Required().Trim().Min(1),
	"Model":  z.String().Optional().Trim(),
	"Parent": z.String().Optional().Trim(),
	"Output": z.String().Optional().Trim(),
	"Force":  z.Bool().Optional(),
})

var thinkArgsSchema = z.Struct(z.Shape{
	"Query":      z.String().Required().Trim().Min(1),
	"Model":      z.String().Optional().Trim(),
	"APIVersion": z.String().Required().Trim().Min(1),
	"Timeout":    z.Int().Required().GTE(1),
	"Output":     z.String().Optional().Trim(),
	"Force":      z.Bool().Optional(),
})

var showArgsSchema = z.Struct(z.Shape{
	"ID":     z.String().Required().Trim(),
	"Output": z.String().Optional().Trim(),
	"Force":  z.Bool().Optional(),
})

func run(args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	envs := env.Get()
	logger := core.InitLogger(envs.DEBUG)
	st := store.New(envs.DB_PATH)
	defer st.Close()

	switch args[0] {
	case "run":
		parsed, err := parseRunArgs(args[1:])
		if err != nil {
			return err
		}
		if issues := runArgsSchema.Validate(&parsed); len(issues) > 0 {
			return fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
		}
		return runResearch(logger, envs, st, parsed)
	case "think":
		parsed, err := parseThinkArgs(args[1:])
		if err != nil {
			return err
		}
		if issues := thinkArgsSchema.Validate(&parsed); len(issues) > 0 {
			return fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
		}
		return runThink(logger, envs, st, parsed)
	case "list":
		return listTasks(st)
	case "show":
		parsed, err := parseShowArgs(args[1:])
		if err != nil {
			return err
		}
		if issues := showArgsSchema.Validate(&parsed); len(issues) > 0 {
			return fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
		}
		return showTask(envs, st, parsed)
	case "version":
		fmt.Println("research " + version.Version())
		return nil
	default:
		return ErrUsage
	}
}

func runResearch(logger *slog.Logger, envs *env.EnvStruct, st *store.Store, parsed RunArgs) error {
	if envs.API_KEY == "" {
		return errors.New("RESEARCH_API_KEY environment variable not set")
	}

	model := parsed.Model
	if model == "" {
		model = envs.MODEL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := researcher.New(sdk.NewClient(), st,
		researcher.WithLogger(logger),
		researcher.WithBackoff(backoff.Poll(envs.PollIntervalMax())),
		researcher.WithProgress(printProgress),
	)

	outcome, err := agent.Run(ctx, researcher.Request{
		Query:      parsed.Query,
		Model:      model,
		ParentID:   parsed.Parent,
		MCPServers: envs.MCPServerList(),
	})
	if err != nil {
		if errors.Is(err, researcher.ErrNoContent) {
			fmt.Fprintf(os.Stderr, "No report content received for task %d.\n", outcome.TaskID)
		}
		return err
	}

	output.PrintReport(os.Stdout, outcome.Report)
	if parsed.Output != "" {
		saved, err := output.SaveReport(outcome.Report, parsed.Output, envs.WORKSPACE, parsed.Force)
		if err != nil {
			return err
		}
		fmt.Printf("Report saved to %s\n", saved)
	}
	return nil
}

// runThink drives a one-shot thinking task. It reuses the research
// lifecycle with the thinking default model, an optional API version
// override and a hard deadline.
func runThink(logger *slog.Logger, envs *env.EnvStruct, st *store.Store, parsed ThinkArgs) error {
	if envs.API_KEY == "" {
		return errors.New("RESEARCH_API_KEY environment variable not set")
	}

	model := parsed.Model
	if model == "" {
		model = envs.THINK_MODEL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	timeout := time.Duration(parsed.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := sdk.NewClient(sdk.WithBaseURL(envs.BaseURLFor(parsed.APIVersion)))
	agent := researcher.New(client, st,
		researcher.WithLogger(logger),
		researcher.WithBackoff(backoff.Poll(envs.PollIntervalMax())),
		researcher.WithProgress(printProgress),
	)

	outcome, err := agent.Run(ctx, researcher.Request{Query: parsed.Query, Model: model})
	if err != nil {
		if errors.Is(err, researcher.ErrCancelled) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("task %d: timed out after %s", outcome.TaskID, timeout)
		}
		if errors.Is(err, researcher.ErrNoContent) {
			fmt.Fprintf(os.Stderr, "No report content received for task %d.\n", outcome.TaskID)
		}
		return err
	}

	output.PrintReport(os.Stdout, outcome.Report)
	if parsed.Output != "" {
		saved, err := output.SaveReport(outcome.Report, parsed.Output, envs.WORKSPACE, parsed.Force)
		if err != nil {
			return err
		}
		fmt.Printf("Saved to %s\n", saved)
	}
	return nil
}

func listTasks(st *store.Store) error {
	records, err := st.Recent(context.Background(), recentTasksLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No research tasks found in history.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUERY\tSTATUS\tCREATED AT\tINTERACTION ID")
	for _, record := range records {
		interactionID := record.InteractionID
		if interactionID == "" {
			interactionID = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			record.ID, output.TruncateQuery(record.Query), record.Status, record.CreatedAt, interactionID)
	}
	return w.Flush()
}

func showTask(envs *env.EnvStruct, st *store.Store, parsed ShowArgs) error {
	id, err := strconv.ParseInt(parsed.ID, 10, 64)
	if err != nil {
		return ErrUsage
	}

	record, err := st.Get(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Printf("Task %d\nQuery: %s\nStatus: %s\nCreated: %s\n", record.ID, record.Query, record.Status, record.CreatedAt)
	if record.InteractionID != "" {
		fmt.Printf("Interaction: %s\n", record.InteractionID)
	}
	if record.ErrorDetail != "" {
		fmt.Printf("Error: %s\n", record.ErrorDetail)
	}

	if record.Report == "" {
		fmt.Println("No report content available for this task.")
		return nil
	}
	output.PrintReport(os.Stdout, record.Report)
	if parsed.Output != "" {
		saved, err := output.SaveReport(record.Report, parsed.Output, envs.WORKSPACE, parsed.Force)
		if err != nil {
			return err
		}
		fmt.Printf("Report saved to %s\n", saved)
	}
	return nil
}

func printProgress(update researcher.Update) {
	switch {
	case update.Thought != "":
		fmt.Fprintf(os.Stderr, "> %s\n", update.Thought)
	case update.Status != "" && update.Status != schemas.TaskStatusCompleted:
		fmt.Fprintf(os.Stderr, "status: %s\n", update.Status)
	}
}

func parseRunArgs(args []string) (RunArgs, error) {
	parsed := RunArgs{}
	for i := 0; i < len(args); {
		switch args[i] {
		case "--model":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Model = args[i+1]
			i += 2
		case "--parent":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Parent = args[i+1]
			i += 2
		case "--output", "-o":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Output = args[i+1]
			i += 2
		case "--force", "-f":
			parsed.Force = true
			i += 1
		default:
			if parsed.Query != "" {
				return parsed, ErrUsage
			}
			parsed.Query = args[i]
			i += 1
		}
	}
	return parsed, nil
}

func parseThinkArgs(args []string) (ThinkArgs, error) {
	parsed := ThinkArgs{APIVersion: "v1alpha", Timeout: defaultThinkTimeoutSeconds}
	for i := 0; i < len(args); {
		switch args[i] {
		case "--model":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Model = args[i+1]
			i += 2
		case "--api-version":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.APIVersion = args[i+1]
			i += 2
		case "--timeout":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			seconds, err := strconv.Atoi(args[i+1])
			if err != nil || seconds < 1 {
				return parsed, ErrUsage
			}
			parsed.Timeout = seconds
			i += 2
		case "--output", "-o":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Output = args[i+1]
			i += 2
		case "--force", "-f":
			parsed.Force = true
			i += 1
		default:
			if parsed.Query != "" {
				return parsed, ErrUsage
			}
			parsed.Query = args[i]
			i += 1
		}
	}
	return parsed, nil
}

func parseShowArgs(args []string) (ShowArgs, error) {
	if len(args) < 1 {
		return ShowArgs{}, ErrUsage
	}
	parsed := ShowArgs{ID: args[0]}
	for i := 1; i < len(args); {
		switch args[i] {
		case "--output", "-o":
			if i+1 >= len(args) {
				return parsed, ErrUsage
			}
			parsed.Output = args[i+1]
			i += 2
		case "--force", "-f":
			parsed.Force = true
			i += 1
		default:
			return parsed, ErrUsage
		}
	}
	return parsed, nil
}
