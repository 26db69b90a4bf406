// Command reconcile is the operator console of the attendance backend:
// it reviews machine user to student mappings and runs the import steps.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/presensi/core"
	logsvc "github.com/trezcool/presensi/services/logger"
	"github.com/trezcool/presensi/services/restapi"
	"github.com/trezcool/presensi/services/session"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "RECONCILE : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	sess, err := openSession(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening session: %v", err), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validate, translator := core.NewValidator()
	client := restapi.NewClient(conf.Backend, sess, logger, restapi.WithUserAgent(conf.AppName+"/"+conf.Build))
	cli := newCommandLine(conf, client, newLinePrompter(os.Stdin, os.Stdout), logger, validate, translator, os.Stdout)

	if err := cli.run(ctx, os.Args); err != nil {
		switch {
		case err == errHelp:
		case core.IsNetwork(err):
			fmt.Fprintln(os.Stderr, "backend unavailable, try again in a moment:", err)
		default:
			fmt.Fprintln(os.Stderr, "error:", err)
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		stop()
		os.Exit(1)
	}
}

// openSession keeps the credentials on disk when a session path is configured.
func openSession(conf *core.Config, logger core.Logger) (*session.Session, error) {
	if conf.Session.Path == "" {
		return session.NewMemory(), nil
	}
	return session.New(session.NewFileStorage(conf.Session.Path), logger)
}
