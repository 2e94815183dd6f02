// Package engine assembles a running Conveyor instance.
//
// Typical usage:
//
//	store := memory.New() // or postgres.New, redis.New, sqlite.New, mongo.New
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(store),
//	    conveyor.WithQueues([]string{"emails", "renders"}),
//	    conveyor.WithConcurrency(16),
//	)
//	if err != nil {
//	    return err
//	}
//
//	eng, err := engine.Build(c,
//	    engine.WithQueueConfig(queue.Config{Name: "renders", MaxConcurrency: 4}),
//	)
//	if err != nil {
//	    return err
//	}
//
//	engine.Register(eng, job.NewDefinition("emails",
//	    func(ctx context.Context, p EmailPayload) (any, error) {
//	        return nil, smtp.Send(ctx, p)
//	    },
//	))
//
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop(ctx)
//
//	engine.Enqueue(ctx, eng, "emails", EmailPayload{To: "a@b"},
//	    job.WithMaxAttempts(5),
//	    job.WithIdempotencyKey("welcome-42"),
//	)
//
// The engine registers two hooks by default: the stats aggregator
// (reachable via Stats) and the stream broker (reachable via Broker).
// Additional hooks are registered with WithHook.
package engine
