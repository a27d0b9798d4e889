// Command watchdogctl manages owners and targets in the worker's store and
// reads back outcomes and queue state.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/repo"
	"github.com/hamed0406/watchdog/internal/repo/backend"
)

func openStore(ctx context.Context, dsn string) (repo.Store, error) {
	return backend.Open(ctx, dsn, zap.NewNop())
}

func main() {
	if err := newRootCmd(openStore).Execute(); err != nil {
		os.Exit(1)
	}
}
