package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/datazip-inc/olake-scaling/drivers"
	"github.com/datazip-inc/olake-scaling/protocol"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/datazip-inc/olake-scaling/utils/safego"
)

func main() {
	defer safego.Recovery(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := protocol.CreateRootCommand(drivers.NewRegistry()).ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatal(err)
	}
}
