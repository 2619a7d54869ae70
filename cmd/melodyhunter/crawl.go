package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

const crawlLogTail = 20

type crawlFlags struct {
	name     string
	platform string
	kind     string
	keyword  string
	url      string
	pages    int
	delay    int
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Create a crawl task and execute it in the foreground",
		Example: `  melodyhunter crawl --platform netease --type search --keyword "周杰伦" --pages 3
  melodyhunter crawl --platform netease --type artist --url "https://music.163.com/#/artist?id=6452"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f, cmd.Flags().Changed("delay"))
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "task name (default <type>-<keyword|url>-<platform>)")
	cmd.Flags().StringVar(&f.platform, "platform", "", "platform name (netease, qq, kugou)")
	cmd.Flags().StringVar(&f.kind, "type", string(crawler.TaskKindSearch), "task type: search, artist, album or playlist")
	cmd.Flags().StringVar(&f.keyword, "keyword", "", "search keyword (search tasks)")
	cmd.Flags().StringVar(&f.url, "url", "", "target URL (artist, album and playlist tasks)")
	cmd.Flags().IntVar(&f.pages, "pages", 0, "maximum pages to crawl (default from crawler.default_max_pages)")
	cmd.Flags().IntVar(&f.delay, "delay", 0, "upper bound in seconds of the random delay before each request")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func runCrawl(cmd *cobra.Command, f crawlFlags, delaySet bool) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}

	req := crawler.TaskRequest{
		Name:          f.name,
		Platform:      f.platform,
		Kind:          crawler.TaskKind(f.kind),
		TargetURL:     f.url,
		SearchKeyword: f.keyword,
		MaxPages:      f.pages,
	}
	if delaySet {
		req.DelaySeconds = crawler.IntPtr(f.delay)
	}
	req = req.Normalize(a.Config.TaskDefaults())
	if err := crawler.ValidateTask(req); err != nil {
		return err
	}

	id, err := a.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	task := crawler.NewTask(id, req, a.Clock.Now())
	if err := a.Store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "task %s created: %s\n", task.ID, task.Name)

	execErr := a.Orchestrator.Execute(ctx, task.ID)
	if execErr != nil && errors.Is(execErr, crawler.ErrTaskNotPending) {
		return execErr
	}

	done, err := a.Store.GetTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	fmt.Fprintf(out, "status: %s  progress: %d%%  found: %d  saved: %d  failed: %d  duration: %s\n",
		done.Status, done.Progress, done.Counters.Found, done.Counters.Saved, done.Counters.Failed,
		done.Duration(a.Clock.Now()).Round(time.Millisecond))

	entries, err := a.Store.ListLogs(ctx, task.ID, crawler.LogFilter{Limit: crawlLogTail})
	if err != nil {
		return fmt.Errorf("list logs: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(out, "  [%s] %-8s %s\n", e.CreatedAt.Format("15:04:05"), strings.ToUpper(string(e.Level)), e.Message)
	}
	return execErr
}
