package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/internal/eventbus"
	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/internal/request"
	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
)

var (
	app       = kingpin.New("agentdash", "Dashboard client for remote coding-agent runs")
	serverURL = app.Flag("server", "agentdash server URL (overrides AGENTDASH_CLI_SERVER_URL)").String()
	apiKey    = app.Flag("api-key", "API key (overrides AGENTDASH_CLI_API_KEY)").String()

	// Task commands
	taskCmd = app.Command("task", "Task commands")

	taskListCmd     = taskCmd.Command("list", "List tasks")
	taskListProject = taskListCmd.Flag("project", "Project ID").String()
	taskListState   = taskListCmd.Flag("state", "Lifecycle state").Enum("draft", "pending", "running", "complete", "failed")
	taskListQuery   = taskListCmd.Flag("query", "Search code, title and description").Short('q').String()

	taskShowCmd = taskCmd.Command("show", "Show task details")
	taskShowID  = taskShowCmd.Arg("id", "Task ID").Required().String()

	taskCreateCmd         = taskCmd.Command("create", "Create a draft task")
	taskCreateProject     = taskCreateCmd.Flag("project", "Project ID").Required().String()
	taskCreateTitle       = taskCreateCmd.Arg("title", "Task title").Required().String()
	taskCreateDescription = taskCreateCmd.Flag("description", "Task description").String()
	taskCreatePriority    = taskCreateCmd.Flag("priority", "Priority").Default("medium").Enum("low", "medium", "high")
	taskCreateAgent       = taskCreateCmd.Flag("agent", "Agent ID").String()
	taskCreateTags        = taskCreateCmd.Flag("tag", "Tag (repeatable)").Strings()

	taskRunCmd = taskCmd.Command("run", "Submit a task to the execution API")
	taskRunID  = taskRunCmd.Arg("id", "Task ID").Required().String()

	taskResetCmd = taskCmd.Command("reset", "Reset a draft or failed task")
	taskResetID  = taskResetCmd.Arg("id", "Task ID").Required().String()

	// Project commands
	projectCmd = app.Command("project", "Project commands")

	projectListCmd      = projectCmd.Command("list", "List projects")
	projectListArchived = projectListCmd.Flag("archived", "List archived projects").Bool()

	projectCreateCmd         = projectCmd.Command("create", "Create a project")
	projectCreateName        = projectCreateCmd.Arg("name", "Project name").Required().String()
	projectCreateKey         = projectCreateCmd.Flag("key", "Task code prefix, derived from the name when empty").String()
	projectCreateRepo        = projectCreateCmd.Flag("repo", "Repository URL").String()
	projectCreateKeyFiles    = projectCreateCmd.Flag("key-files", "Key files, comma or newline separated").String()
	projectCreateDescription = projectCreateCmd.Flag("description", "Project description").String()

	projectRunCmd = projectCmd.Command("run", "Submit a project run")
	projectRunID  = projectRunCmd.Arg("id", "Project ID").Required().String()

	projectStatusCmd = projectCmd.Command("status", "Show project run progress")
	projectStatusID  = projectStatusCmd.Arg("run-id", "Project run ID").Required().String()

	// Agent commands
	agentCmd = app.Command("agent", "Agent commands")

	agentListCmd = agentCmd.Command("list", "List agents")

	agentCreateCmd         = agentCmd.Command("create", "Register an agent")
	agentCreateName        = agentCreateCmd.Arg("name", "Agent name").Required().String()
	agentCreateURL         = agentCreateCmd.Arg("url", "Agent URL").Required().String()
	agentCreateDescription = agentCreateCmd.Flag("description", "Agent description").String()

	// Event stream
	watchCmd     = app.Command("watch", "Print the server event stream")
	watchTypes   = watchCmd.Flag("type", "Event type (repeatable)").Strings()
	watchProject = watchCmd.Flag("project", "Project ID").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &CLI{client: NewClient(cfg), out: os.Stdout}
	if err := cli.Run(ctx, command); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

type CLI struct {
	client *Client
	out    io.Writer
}

func (c *CLI) Run(ctx context.Context, command string) error {
	switch command {
	case taskListCmd.FullCommand():
		return c.listTasks(ctx)
	case taskShowCmd.FullCommand():
		return c.showTask(ctx, *taskShowID)
	case taskCreateCmd.FullCommand():
		return c.taskAction(ctx, http.MethodPost, "/api/tasks", map[string]any{
			"title":       *taskCreateTitle,
			"description": *taskCreateDescription,
			"priority":    *taskCreatePriority,
			"project_id":  *taskCreateProject,
			"agent_id":    *taskCreateAgent,
			"tags":        *taskCreateTags,
		})
	case taskRunCmd.FullCommand():
		return c.taskAction(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(*taskRunID)+"/run", nil)
	case taskResetCmd.FullCommand():
		return c.taskAction(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(*taskResetID)+"/reset", nil)
	case projectListCmd.FullCommand():
		return c.listProjects(ctx)
	case projectCreateCmd.FullCommand():
		return c.createProject(ctx)
	case projectRunCmd.FullCommand():
		var run projectrun.ProjectRun
		if err := c.client.Do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(*projectRunID)+"/run", nil, nil, &run); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Started project run %s (%d subtasks)\n", run.ID, len(run.Subtasks))
		return nil
	case projectStatusCmd.FullCommand():
		return c.projectStatus(ctx, *projectStatusID)
	case agentListCmd.FullCommand():
		return c.listAgents(ctx)
	case agentCreateCmd.FullCommand():
		var a agent.Agent
		if err := c.client.Do(ctx, http.MethodPost, "/api/agents", nil, map[string]any{
			"name":        *agentCreateName,
			"url":         *agentCreateURL,
			"description": *agentCreateDescription,
		}, &a); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Created agent %s\n", a.ID)
		return nil
	case watchCmd.FullCommand():
		return c.watch(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (c *CLI) listTasks(ctx context.Context) error {
	q := url.Values{}
	if *taskListProject != "" {
		q.Set("project_id", *taskListProject)
	}
	if *taskListState != "" {
		q.Set("state", *taskListState)
	}
	if *taskListQuery != "" {
		q.Set("q", *taskListQuery)
	}
	var res request.ListResponse[*task.Task]
	if err := c.client.Do(ctx, http.MethodGet, "/api/tasks", q, nil, &res); err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATE\tPRIORITY\tTITLE\tBRANCH\tID")
	for _, t := range res.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.Code, stateColor(t.State), t.Priority, t.Title, t.BranchName, t.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d of %d tasks\n", len(res.Items), res.Total)
	return nil
}

func (c *CLI) showTask(ctx context.Context, id string) error {
	var t task.Task
	if err := c.client.Do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return err
	}
	c.printTask(&t)
	return nil
}

func (c *CLI) taskAction(ctx context.Context, method, path string, body any) error {
	var t task.Task
	if err := c.client.Do(ctx, method, path, nil, body, &t); err != nil {
		return err
	}
	c.printTask(&t)
	return nil
}

func (c *CLI) printTask(t *task.Task) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Code:\t%s\n", t.Code)
	fmt.Fprintf(w, "ID:\t%s\n", t.ID)
	fmt.Fprintf(w, "Title:\t%s\n", t.Title)
	fmt.Fprintf(w, "State:\t%s\n", stateColor(t.State))
	fmt.Fprintf(w, "Priority:\t%s\n", t.Priority)
	fmt.Fprintf(w, "Project:\t%s\n", t.ProjectID)
	if t.AgentID != "" {
		fmt.Fprintf(w, "Agent:\t%s\n", t.AgentID)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(t.Tags, ", "))
	}
	if t.RemoteJobID != "" {
		fmt.Fprintf(w, "Remote job:\t%s\n", t.RemoteJobID)
	}
	if t.BranchName != "" {
		fmt.Fprintf(w, "Branch:\t%s\n", t.BranchName)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", t.Description)
	}
	_ = w.Flush()
}

func (c *CLI) listProjects(ctx context.Context) error {
	q := url.Values{}
	if *projectListArchived {
		q.Set("archived", "true")
	}
	var res request.ListResponse[*project.Project]
	if err := c.client.Do(ctx, http.MethodGet, "/api/projects", q, nil, &res); err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tREPOSITORY\tTASKS\tID")
	for _, p := range res.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Key, p.Name, p.RepositoryURL, p.TaskCounter, p.ID)
	}
	return w.Flush()
}

func (c *CLI) createProject(ctx context.Context) error {
	var p project.Project
	if err := c.client.Do(ctx, http.MethodPost, "/api/projects", nil, map[string]any{
		"name":           *projectCreateName,
		"key":            *projectCreateKey,
		"description":    *projectCreateDescription,
		"repository_url": *projectCreateRepo,
		"key_files":      *projectCreateKeyFiles,
	}, &p); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created project %s (%s)\n", p.ID, p.Key)
	return nil
}

func (c *CLI) projectStatus(ctx context.Context, runID string) error {
	var run projectrun.RunResponse
	if err := c.client.Do(ctx, http.MethodGet, "/api/project-runs/"+url.PathEscape(runID), nil, nil, &run); err != nil {
		return err
	}
	status := "active"
	if !run.Active {
		status = "finished"
	}
	fmt.Fprintf(c.out, "Run %s (%s): %d/%d completed, %d failed, %d running\n",
		run.ID, status, run.Progress.Completed, run.Progress.Total, run.Progress.Failed, run.Progress.Running)

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBTASK\tSTATUS\tBRANCH\tDESCRIPTION")
	for _, s := range run.Subtasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.RemoteID, subtaskColor(s.Status), s.BranchName, s.Description)
	}
	return w.Flush()
}

func (c *CLI) listAgents(ctx context.Context) error {
	var res request.ListResponse[*agent.Agent]
	if err := c.client.Do(ctx, http.MethodGet, "/api/agents", nil, nil, &res); err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tID")
	for _, a := range res.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.URL, a.ID)
	}
	return w.Flush()
}

func (c *CLI) watch(ctx context.Context) error {
	q := url.Values{}
	for _, t := range *watchTypes {
		q.Add("type", t)
	}
	if *watchProject != "" {
		q.Set("project_id", *watchProject)
	}
	return c.client.Stream(ctx, "/api/events", q, func(_ string, data []byte) error {
		var ev eventbus.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		line := fmt.Sprintf("%s %-22s %s", ev.CreatedAt.Format("15:04:05"), ev.Type, ev.ResourceID)
		if state := ev.Metadata[eventbus.MetaState]; state != "" {
			line += " " + stateColor(task.State(state))
		}
		fmt.Fprintln(c.out, line)
		return nil
	})
}

func stateColor(s task.State) string {
	switch s {
	case task.StateComplete:
		return color.GreenString(string(s))
	case task.StateFailed:
		return color.RedString(string(s))
	case task.StateRunning:
		return color.CyanString(string(s))
	case task.StatePending:
		return color.YellowString(string(s))
	}
	return string(s)
}

func subtaskColor(status string) string {
	switch status {
	case projectrun.SubtaskStatusCompleted:
		return color.GreenString(status)
	case projectrun.SubtaskStatusFailed:
		return color.RedString(status)
	}
	return status
}

func printError(w io.Writer, err error) {
	var e *cerr.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(w, "%s %v\n", color.RedString("Error:"), err)
		return
	}
	fmt.Fprintf(w, "%s %s (%s)\n", color.RedString("Error:"), e.Msg, e.Code)
	for _, v := range e.Violations() {
		fmt.Fprintf(w, "  %s: %s\n", v.Field, v.Message)
	}
}
