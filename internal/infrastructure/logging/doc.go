// Package logging builds the bridge's slog logger from the logging section
// of config.yaml.
//
// Every record carries service=tfbridge and the build version. Subsystems
// take a child logger with Component so their lines can be filtered:
//
//	log := logging.New(cfg.Logging, version)
//	brickdLog := log.Component("brickd")
//	brickdLog.Info("connection established", "host", cfg.Brickd.Host)
//
// Output is JSON unless format is "text". Credentials from the security and
// mqtt sections are never passed to the logger.
package logging
