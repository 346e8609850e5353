// Command multiplexdemo wires multiplex.Multiplex to the in-memory
// testtransport double and runs it to completion, to exercise the engine
// end to end outside of the test suite. Grounded on the errgroup-coordinated
// goroutine shape used across the example pack (e.g.
// rockstar-0000-aistore/fs/walkbck.go's jogger group), and on
// nishisan-dev-n-backup/internal/agent/throttle.go's
// golang.org/x/time/rate.Limiter + WaitN pattern for the tick-rate limiter.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/go-multiplex/multiplex"
	"github.com/go-multiplex/multiplex/internal/testtransport"
)

// tickRateLimit bounds how often runThrottled may call Tick, so a demo
// driving a busy transport doesn't spin the loop as fast as the CPU allows.
const tickRateLimit = 200 // ticks per second

func main() {
	multiplex.RegisterLogger(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "multiplexdemo:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	transport := testtransport.NewTransport()
	dispatch := testtransport.NewDispatch()

	// Script one peer-initiated request/response exchange and then the
	// peer announcing it has nothing further to send.
	transport.Push(
		multiplex.MessageFrame{ID: 1, Head: "ping"},
		multiplex.DoneFrame{},
	)
	dispatch.Enqueue(multiplex.DispatchItem{
		ID:  1,
		Msg: &multiplex.Message{Head: "pong"},
	})
	dispatch.SetExhausted(true)

	mx := multiplex.New(transport, dispatch, multiplex.Config{})
	limiter := rate.NewLimiter(rate.Limit(tickRateLimit), 1)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runThrottled(gctx, mx, limiter)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	for _, f := range transport.Written() {
		fmt.Printf("wrote: %#v\n", f)
	}
	return nil
}

// runThrottled is multiplex.Multiplex.Run with each Tick gated by limiter,
// so the demo's driver loop never ticks faster than tickRateLimit allows.
func runThrottled(ctx context.Context, mx *multiplex.Multiplex, limiter *rate.Limiter) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		done, err := mx.Tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
