package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/review"
	"github.com/zulandar/switchboard/internal/worker"
	"gorm.io/gorm"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and run call reviews",
	}

	cmd.AddCommand(newReviewListCmd())
	cmd.AddCommand(newReviewShowCmd())
	cmd.AddCommand(newReviewStatsCmd())
	cmd.AddCommand(newReviewRunCmd())
	cmd.AddCommand(newReviewBatchCmd())
	return cmd
}

func newReviewListCmd() *cobra.Command {
	var (
		configPath string
		filters    review.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			return runReviewList(cmd.OutOrStdout(), gormDB, filters)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&filters.AgentID, "agent", "", "filter by agent ID")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum number of records")
	return cmd
}

func runReviewList(out io.Writer, gormDB *gorm.DB, filters review.ListFilters) error {
	recs, err := review.List(gormDB, filters)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No reviews found.")
		return nil
	}
	printRecords(out, recs)
	return nil
}

func printRecords(out io.Writer, recs []models.ReviewRecord) {
	now := time.Now()
	table := newTable(out, []string{"CALL", "REVIEW", "AGENT", "STATUS", "ATTEMPTS", "UPDATED"})
	for _, rec := range recs {
		_ = table.Append([]string{
			rec.CallID,
			rec.ID,
			rec.AgentID,
			statusColor(rec.Status),
			strconv.Itoa(rec.Attempts),
			formatAge(rec.UpdatedAt, now) + " ago",
		})
	}
	_ = table.Render()
}

func newReviewShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show a review and its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			return runReviewShow(cmd.OutOrStdout(), gormDB, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runReviewShow(out io.Writer, gormDB *gorm.DB, callID string) error {
	rec, err := review.Get(gormDB, callID)
	if errors.Is(err, review.ErrNotFound) {
		return fmt.Errorf("no review for call %s", callID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", bold("Review"), rec.ID)
	fmt.Fprintf(out, "  Call:     %s\n", rec.CallID)
	fmt.Fprintf(out, "  Agent:    %s\n", rec.AgentID)
	fmt.Fprintf(out, "  Status:   %s\n", statusColor(rec.Status))
	fmt.Fprintf(out, "  Attempts: %d\n", rec.Attempts)
	fmt.Fprintf(out, "  Created:  %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.ReviewedAt != nil {
		fmt.Fprintf(out, "  Reviewed: %s\n", rec.ReviewedAt.Format(time.RFC3339))
	}
	if rec.ErrorMessage != nil {
		fmt.Fprintf(out, "  Error:    %s\n", red(*rec.ErrorMessage))
	}

	res, err := rec.DecodeResult()
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if res.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", res.Summary)
	}
	if len(res.Errors) == 0 {
		fmt.Fprintln(out, "\nNo findings.")
		return nil
	}
	fmt.Fprintf(out, "\n%s (%d)\n", bold("Findings"), len(res.Errors))
	table := newTable(out, []string{"IMPACT", "TYPE", "DESCRIPTION"})
	for _, f := range res.Errors {
		_ = table.Append([]string{impactColor(f.Impact), f.Type, f.Description})
	}
	_ = table.Render()
	return nil
}

func newReviewStatsCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count reviews by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			return runReviewStats(cmd.OutOrStdout(), gormDB, agentID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&agentID, "agent", "", "count only this agent's reviews")
	return cmd
}

func runReviewStats(out io.Writer, gormDB *gorm.DB, agentID string) error {
	counts, err := review.CountByStatus(gormDB, agentID)
	if err != nil {
		return err
	}
	statuses := []string{review.StatusPending, review.StatusProcessing, review.StatusCompleted, review.StatusFailed}
	// Unknown statuses should not exist, but show them if they do.
	var extra []string
	for s := range counts {
		if !validStatus(s) {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)

	var total int64
	table := newTable(out, []string{"STATUS", "COUNT"})
	for _, s := range append(statuses, extra...) {
		total += counts[s]
		_ = table.Append([]string{statusColor(s), strconv.FormatInt(counts[s], 10)})
	}
	_ = table.Append([]string{"total", strconv.FormatInt(total, 10)})
	_ = table.Render()
	return nil
}

func validStatus(s string) bool {
	switch s {
	case review.StatusPending, review.StatusProcessing, review.StatusCompleted, review.StatusFailed:
		return true
	}
	return false
}

func newReviewRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <call-id>...",
		Short: "Review calls now and wait for the results",
		Long: `Triggers reviews for the given calls in this process and waits until they
finish. Calls that already have a review are left as they are.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), configPath, cmd.OutOrStdout(), func(ctx context.Context, p *pipeline.Pipeline) (pipeline.BatchSummary, error) {
				return p.EnqueueCalls(ctx, args), nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func newReviewBatchCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Review an agent's most recent calls and wait for the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent is required")
			}
			return runLocal(cmd.Context(), configPath, cmd.OutOrStdout(), func(ctx context.Context, p *pipeline.Pipeline) (pipeline.BatchSummary, error) {
				return p.EnqueueBatch(ctx, agentID, limit)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent whose calls to review (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of recent calls (default and maximum: review.batch_limit)")
	return cmd
}

func printSummary(out io.Writer, s pipeline.BatchSummary) {
	fmt.Fprintf(out, "%d calls: %s queued, %d skipped, %s errored\n",
		s.Total, green(strconv.Itoa(s.Queued)), s.Skipped, red(strconv.Itoa(s.Errored)))
}

// runLocal runs a worker pool in this process, lets enqueue submit work to
// it, then drains the pool and prints the records of the enqueued calls.
func runLocal(ctx context.Context, configPath string, out io.Writer, enqueue func(context.Context, *pipeline.Pipeline) (pipeline.BatchSummary, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	// Relay mode publishes updates to the server instances' subscribers.
	h, _, err := buildHub(cfg.Hub, gormDB)
	if err != nil {
		return err
	}
	pool := worker.New(cfg.Review.Workers, localQueueSize(cfg))
	p, err := buildPipeline(cfg, gormDB, h, pool)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	summary, err := enqueue(ctx, p)
	stop()
	if waitErr := <-done; waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}
	printSummary(out, summary)

	recs := make([]models.ReviewRecord, 0, len(summary.CallIDs))
	for _, id := range summary.CallIDs {
		rec, err := review.Get(gormDB, id)
		if errors.Is(err, review.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		recs = append(recs, *rec)
	}
	if len(recs) > 0 {
		fmt.Fprintln(out)
		printRecords(out, recs)
	}
	return nil
}

// localQueueSize fits a full batch: one review job and one webhook job per
// call.
func localQueueSize(cfg *config.Config) int {
	if n := 2 * pipeline.MaxBatchLimit; n > cfg.Review.QueueSize {
		return n
	}
	return cfg.Review.QueueSize
}
