package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lunalabs/testbench/cmd/lunatb/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.New().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "lunatb:", err)

		cancel()
		os.Exit(1)
	}
}
