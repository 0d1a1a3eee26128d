package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"bitcoin-telemetry/api"
	"bitcoin-telemetry/collector"
	"bitcoin-telemetry/config"
	"bitcoin-telemetry/logger"
	"bitcoin-telemetry/rpc"
)

var log = logger.Logger

const (
	version         = "1.0.0"
	mdnsServiceName = "_btc_telemetry._tcp"
	mdnsDomain      = "local."
)

func main() {
	app := &cli.App{
		Name:        "bitcoin-telemetry",
		Usage:       "Bitcoin node telemetry aggregation and broadcast service",
		Description: "Polls a Bitcoin full node over JSON-RPC and pushes typed telemetry snapshots to WebSocket subscribers",
		Version:     version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "Port the WebSocket hub listens on",
				EnvVars: []string{config.EnvPort},
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: collector.DefaultPollInterval,
				Usage: "Polling cycle interval",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Value: "logs",
				Usage: "Directory for rotated log files (empty disables file logging)",
			},
			&cli.StringFlag{
				Name:  "log-db",
				Usage: "SQLite database backing /api/logs (empty disables the log store)",
			},
			&cli.StringFlag{
				Name:  "ntp-server",
				Value: "pool.ntp.org",
				Usage: "NTP server for the clock-offset health facet (empty disables it)",
			},
			&cli.BoolFlag{
				Name:  "advertise",
				Usage: "Advertise the service over mDNS so LAN dashboards can discover it",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Service failed")
	}
}

func run(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		log.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if err := logger.Setup(c.String("log-dir"), c.String("log-db")); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	config.Load()
	if _, err := config.NodeRPCFromEnv(); err != nil {
		// Warn rather than exit: credentials are re-read on every dispatch,
		// so setting them later heals the service without a restart.
		log.WithError(err).Warn("Node RPC configuration incomplete, collectors will fail until it is set")
	}

	port := c.String("port")
	dispatcher := rpc.NewDispatcher(rpc.NewClient())
	hub := api.NewHub(dispatcher)
	server := api.NewServer(port, hub)

	scheduler := collector.NewScheduler(
		c.Duration("interval"),
		hub,
		collector.NewBlock(dispatcher),
		collector.NewHashrate(dispatcher),
		collector.NewLatency(dispatcher),
		collector.NewReward(dispatcher),
		collector.NewHealth(dispatcher, c.String("ntp-server")),
	)

	log.WithFields(logger.Fields{
		"port":     port,
		"interval": c.Duration("interval"),
		"version":  version,
	}).Info("Starting Bitcoin telemetry service")

	var mdnsServer *mdns.Server
	if c.Bool("advertise") {
		mdnsServer, err = advertise(port)
		if err != nil {
			log.WithError(err).Warn("mDNS advertisement failed, continuing without discovery")
		}
	}

	scheduler.Start()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		sig := <-sigChan
		log.WithField("signal", sig).Info("Received shutdown signal")

		scheduler.Stop()
		if mdnsServer != nil {
			mdnsServer.Shutdown()
		}
		if err := server.Stop(); err != nil {
			log.WithError(err).Error("Error stopping server")
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("telemetry server failed: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

// advertise registers the service over mDNS so dashboards on the local
// network can find the hub without configuration.
func advertise(port string) (*mdns.Server, error) {
	portNum, err := parsePort(port)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		host = "bitcoin-telemetry"
	}

	service, err := mdns.NewMDNSService(
		host,
		mdnsServiceName,
		mdnsDomain,
		"",
		portNum,
		nil,
		mdnsTXTInfo(version),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.WithFields(logger.Fields{
		"service": mdnsServiceName,
		"port":    portNum,
	}).Info("Advertising telemetry service over mDNS")

	return server, nil
}

func mdnsTXTInfo(version string) []string {
	return []string{
		fmt.Sprintf("version=%s", version),
		fmt.Sprintf("advertised=%d", time.Now().Unix()),
	}
}

func parsePort(port string) (int, error) {
	var portNum int
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil || portNum <= 0 || portNum > 65535 {
		return 0, fmt.Errorf("invalid port %q", port)
	}
	return portNum, nil
}
