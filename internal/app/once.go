package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
)

// Once runs a single synchronous fetch-evaluate cycle and exits. Useful for
// cron-style deployments and smoke testing a fresh configuration.
func (a *App) Once(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run a cycle")
	}
	defer closeStore()

	svc := a.newService(store)

	a.Logger.Info().Msg("running single evaluation cycle")
	return svc.RunCycle(ctx)
}
