// Command stateentityd runs the State Entity coordinator: the HTTP API
// plus the three background tickers (Conductor matching, batch sweep,
// backup-tx watcher) that drive the core forward independent of any
// inbound request.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"stateentity/internal/daemon"
	"stateentity/pkg/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Error("load config")
		os.Exit(daemon.ExitConfigError)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, lerr := logrus.ParseLevel(cfg.LogLevel); lerr == nil {
		log.SetLevel(lvl)
	}

	os.Exit(daemon.Run(cfg, log))
}
