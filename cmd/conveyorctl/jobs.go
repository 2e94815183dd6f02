package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pressline/conveyor/job"
)

func newEnqueueCmd(client *apiClient) *cobra.Command {
	var (
		payload        string
		priority       int
		maxAttempts    int
		timeoutStr     string
		delayStr       string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}

			body := map[string]any{"payload": json.RawMessage(payload)}
			if priority != 0 {
				body["priority"] = priority
			}
			if maxAttempts > 0 {
				body["max_attempts"] = maxAttempts
			}
			if timeoutStr != "" {
				d, err := time.ParseDuration(timeoutStr)
				if err != nil {
					return fmt.Errorf("invalid --timeout: %w", err)
				}
				body["timeout_ms"] = d.Milliseconds()
			}
			if delayStr != "" {
				d, err := time.ParseDuration(delayStr)
				if err != nil {
					return fmt.Errorf("invalid --delay: %w", err)
				}
				body["delay_ms"] = d.Milliseconds()
			}
			if idempotencyKey != "" {
				body["idempotency_key"] = idempotencyKey
			}

			var j job.Job
			if err := client.post("/v1/queues/"+args[0]+"/jobs", body, &j); err != nil {
				return err
			}
			fmt.Printf("Enqueued %s on %q (state %s).\n", j.ID, j.Queue, j.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload as JSON")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, lower runs first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts before dead lettering")
	cmd.Flags().StringVar(&timeoutStr, "timeout", "", "per-attempt execution timeout, e.g. 30s")
	cmd.Flags().StringVar(&delayStr, "delay", "", "delay before the job becomes available, e.g. 5m")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "deduplication key")
	return cmd
}

func newJobsCmd(client *apiClient) *cobra.Command {
	var (
		queueName string
		state     string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var jobs []*job.Job
			if err := client.get("/v1/jobs", listQuery(queueName, state, limit, offset), &jobs); err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tSTATE\tATTEMPTS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					j.ID, j.Queue, j.State, j.AttemptsMade, j.MaxAttempts,
					humanize.Time(j.CreatedAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by queue")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newJobCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var j job.Job
			if err := client.get("/v1/jobs/"+args[0], nil, &j); err != nil {
				return err
			}
			printJob(&j)
			return nil
		},
	}
}

func newCancelCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a waiting or delayed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post("/v1/jobs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Job %s cancelled.\n", args[0])
			return nil
		},
	}
}

func newRetryCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post("/v1/jobs/"+args[0]+"/retry", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Job %s requeued.\n", args[0])
			return nil
		},
	}
}

func printJob(j *job.Job) {
	fmt.Printf("ID:           %s\n", j.ID)
	fmt.Printf("Queue:        %s\n", j.Queue)
	fmt.Printf("State:        %s\n", j.State)
	fmt.Printf("Priority:     %d\n", j.Priority)
	fmt.Printf("Attempts:     %d/%d\n", j.AttemptsMade, j.MaxAttempts)
	fmt.Printf("Payload:      %s (%s)\n", string(j.Payload), humanize.Bytes(uint64(len(j.Payload))))
	if j.IdempotencyKey != "" {
		fmt.Printf("Idempotency:  %s\n", j.IdempotencyKey)
	}
	if !j.ReplayOf.IsNil() {
		fmt.Printf("Replay of:    %s\n", j.ReplayOf)
	}
	if j.LastError != nil {
		fmt.Printf("Last error:   %s\n", j.LastError.Message)
	}
	fmt.Printf("Created:      %s\n", humanize.Time(j.CreatedAt))
	if j.StartedAt != nil {
		fmt.Printf("Started:      %s\n", humanize.Time(*j.StartedAt))
	}
	if j.FinishedAt != nil {
		fmt.Printf("Finished:     %s\n", humanize.Time(*j.FinishedAt))
	}
}
