package main

import (
	"context"
	"fmt"

	echoapi "github.com/trezcool/presensi/apps/mockapi/echo"
)

// serve runs the API server until it fails or the process is asked to stop.
func (cli *commandLine) serve() error {
	logger := cli.logger

	logger.Info(fmt.Sprintf("Application initializing : version %q", cli.conf.Build))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       cli.conf,
			Logger:     logger,
			Registry:   cli.registry,
			Validate:   cli.validate,
			Translator: cli.translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		return fmt.Errorf("server error: %w", err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), cli.conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not force stop server: %w", err)
			}
		}
	}
	return nil
}
