// Package pool owns the goroutines of a routing context.
//
// A [Manager] hands out named, fixed-size worker pools and one shared
// [Scheduler] for delayed work such as redeliveries. Worker names carry a
// process-wide sequence number, so every worker started by any manager in the
// process is uniquely named:
//
//	m := pool.NewManager(pool.Config{})
//	p, _ := m.NewPool("seda://orders", 4)
//	_ = p.Go(func(ctx context.Context, name string) error {
//		slog.Info("worker started", "worker", name)
//		return nil
//	})
//	_ = m.Shutdown(ctx)
package pool
