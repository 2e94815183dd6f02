package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
)

func newDLQCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead lettered jobs",
	}
	cmd.AddCommand(
		newDLQListCmd(client),
		newDLQShowCmd(client),
		newDLQReplayCmd(client),
		newDLQDeleteCmd(client),
		newDLQPurgeCmd(client),
		newDLQCountCmd(client),
	)
	return cmd
}

func newDLQListCmd(client *apiClient) *cobra.Command {
	var (
		queueName string
		query     string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search dead letter entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if queueName != "" {
				q.Set("queue", queueName)
			}
			if query != "" {
				q.Set("q", query)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			if offset > 0 {
				q.Set("offset", fmt.Sprint(offset))
			}

			var entries []*dlq.Entry
			if err := client.get("/v1/dlq", q, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Dead letter queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tREASON\tATTEMPTS\tFAILED\tREPLAYED")
			for _, e := range entries {
				replayed := "-"
				if e.ReplayedAt != nil {
					replayed = humanize.Time(*e.ReplayedAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					e.ID, e.Queue, truncate(e.Reason, 48),
					e.AttemptsMade, e.MaxAttempts,
					humanize.Time(e.FailedAt), replayed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by origin queue")
	cmd.Flags().StringVar(&query, "query", "", "match against job ID, idempotency key, or reason")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newDLQShowCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show a dead letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e dlq.Entry
			if err := client.get("/v1/dlq/"+args[0], nil, &e); err != nil {
				return err
			}

			fmt.Printf("ID:           %s\n", e.ID)
			fmt.Printf("Job:          %s\n", e.JobID)
			fmt.Printf("Queue:        %s\n", e.Queue)
			fmt.Printf("Reason:       %s\n", e.Reason)
			fmt.Printf("Kind:         %s\n", e.Kind)
			fmt.Printf("Attempts:     %d/%d\n", e.AttemptsMade, e.MaxAttempts)
			fmt.Printf("Payload:      %s (%s)\n", string(e.Payload), humanize.Bytes(uint64(len(e.Payload))))
			if e.IdempotencyKey != "" {
				fmt.Printf("Idempotency:  %s\n", e.IdempotencyKey)
			}
			fmt.Printf("Failed:       %s\n", humanize.Time(e.FailedAt))
			if e.ReplayedAt != nil {
				fmt.Printf("Replayed:     %s as %s\n", humanize.Time(*e.ReplayedAt), e.ReplayedAs)
			}
			return nil
		},
	}
}

func newDLQReplayCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <entry-id>...",
		Short: "Replay dead letter entries back onto their queues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var j job.Job
				if err := client.post("/v1/dlq/"+args[0]+"/replay", nil, &j); err != nil {
					return err
				}
				fmt.Printf("Replayed %s as job %s on %q.\n", args[0], j.ID, j.Queue)
				return nil
			}

			var result struct {
				Replayed map[string]string `json:"replayed"`
				Failed   map[string]string `json:"failed"`
			}
			body := map[string]any{"entry_ids": args}
			if err := client.post("/v1/dlq/replay", body, &result); err != nil {
				return err
			}
			for entryID, jobID := range result.Replayed {
				fmt.Printf("Replayed %s as job %s.\n", entryID, jobID)
			}
			for entryID, reason := range result.Failed {
				fmt.Fprintf(os.Stderr, "Skipped %s: %s\n", entryID, reason)
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d entr(ies) not replayed", len(result.Failed))
			}
			return nil
		},
	}
}

func newDLQDeleteCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a dead letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.del("/v1/dlq/" + args[0]); err != nil {
				return err
			}
			fmt.Printf("Entry %s deleted.\n", args[0])
			return nil
		},
	}
}

func newDLQPurgeCmd(client *apiClient) *cobra.Command {
	var (
		queueName string
		olderThan string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Bulk delete dead letter entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{}
			if queueName != "" {
				body["queue"] = queueName
			}
			if olderThan != "" {
				d, err := time.ParseDuration(olderThan)
				if err != nil {
					return fmt.Errorf("invalid --older-than: %w", err)
				}
				body["older_than_ms"] = d.Milliseconds()
			}

			var result struct {
				Purged int64 `json:"purged"`
			}
			if err := client.post("/v1/dlq/purge", body, &result); err != nil {
				return err
			}
			fmt.Printf("Purged %d entr(ies).\n", result.Purged)
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "restrict to one origin queue")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "only purge entries older than this, e.g. 720h")
	return cmd
}

func newDLQCountCmd(client *apiClient) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count dead letter entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if queueName != "" {
				q.Set("queue", queueName)
			}

			var result struct {
				Count int64 `json:"count"`
			}
			if err := client.get("/v1/dlq/count", q, &result); err != nil {
				return err
			}
			fmt.Println(result.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "restrict to one origin queue")
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
