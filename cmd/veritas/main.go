// Command veritas benchmarks language models against a question set,
// grading every response with a judge model and aggregating the scores
// with bootstrap confidence intervals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := 0
	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}

	stop()
	os.Exit(code)
}
