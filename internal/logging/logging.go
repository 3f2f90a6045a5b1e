package logging

import (
	"log"

	"go.uber.org/zap"
)

// New builds the process logger: one JSON object per line, dev config gets
// the console encoder instead.
func New(appEnv string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if appEnv == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

// Banner logs the startup line for a process and the queues it serves.
func Banner(log *zap.Logger, processName string, workerNames []string) {
	log.Info("process started",
		zap.String("process", processName),
		zap.Strings("workers", workerNames),
	)
}
