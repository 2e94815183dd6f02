package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pressline/conveyor/job"
	"github.com/pressline/conveyor/stats"
)

func newQueuesCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var queues []job.QueueInfo
			if err := client.get("/v1/queues", nil, &queues); err != nil {
				return err
			}
			if len(queues) == 0 {
				fmt.Println("No queues.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tCREATED")
			for _, q := range queues {
				status := "active"
				if q.Paused {
					status = "paused"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", q.Name, status, humanize.Time(q.CreatedAt))
			}
			return w.Flush()
		},
	}
}

func newPauseCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <queue>",
		Short: "Pause a queue so no new leases are handed out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post("/v1/queues/"+args[0]+"/pause", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Queue %q paused.\n", args[0])
			return nil
		},
	}
}

func newResumeCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <queue>",
		Short: "Resume a paused queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post("/v1/queues/"+args[0]+"/resume", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Queue %q resumed.\n", args[0])
			return nil
		},
	}
}

func newPurgeCmd(client *apiClient) *cobra.Command {
	var (
		states    []string
		force     bool
		olderThan string
	)

	cmd := &cobra.Command{
		Use:   "purge <queue>",
		Short: "Remove jobs from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"states": states, "force": force}
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
			if err := client.post("/v1/queues/"+args[0]+"/purge", body, &result); err != nil {
				return err
			}
			fmt.Printf("Purged %d job(s) from %q.\n", result.Purged, args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&states, "states", nil,
		"states to purge (default: completed,failed,dead_lettered)")
	cmd.Flags().BoolVar(&force, "force", false, "permit purging non-terminal states")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "only purge jobs older than this, e.g. 24h")
	return cmd
}

func newStatsCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [queue]",
		Short: "Show queue statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshots []*stats.QueueStats
			if len(args) == 1 {
				var snap stats.QueueStats
				if err := client.get("/v1/queues/"+args[0]+"/stats", nil, &snap); err != nil {
					return err
				}
				snapshots = append(snapshots, &snap)
			} else {
				if err := client.get("/v1/stats", nil, &snapshots); err != nil {
					return err
				}
			}
			if len(snapshots) == 0 {
				fmt.Println("No queues.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tWAITING\tACTIVE\tCOMPLETED\tDEAD\tAVG\tP95\tPER MIN")
			for _, s := range snapshots {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%.1f\n",
					s.Queue,
					s.States[job.StateWaiting]+s.States[job.StateDelayed],
					s.States[job.StateActive],
					s.States[job.StateCompleted],
					s.States[job.StateDeadLettered],
					s.AvgDuration.Round(time.Millisecond),
					s.P95Duration.Round(time.Millisecond),
					s.ThroughputPerMin,
				)
			}
			return w.Flush()
		},
	}
}

func listQuery(queue, state string, limit, offset int) url.Values {
	q := url.Values{}
	if queue != "" {
		q.Set("queue", queue)
	}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	return q
}
