// Package process supervises long-running child processes.
//
// Manager is generic: it starts a binary in its own process group, logs its
// output, restarts it with exponential backoff and stops it with SIGTERM
// followed by SIGKILL. Proxy builds on Manager to run the tinkerforge_mqtt
// proxy that exposes brickd on the MQTT broker.
//
//	proxy := process.NewProxy(process.ProxyOptions{
//	    Proxy:       cfg.Brickd.Proxy,
//	    MQTT:        cfg.MQTT,
//	    TopicPrefix: cfg.Brickd.TopicPrefix,
//	    Logger:      log,
//	})
//	if err := proxy.Start(ctx); err != nil {
//	    return err
//	}
//	defer proxy.Stop()
package process
