package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/filecollect/file-registry-backend/common"
	"github.com/filecollect/file-registry-backend/httpserver"
	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/kvstore"
	"github.com/filecollect/file-registry-backend/registry"
	"github.com/filecollect/file-registry-backend/storage"
	"github.com/filecollect/file-registry-backend/uploader"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "kv-uri",
		Value: "mem://",
		Usage: "backing key-value store URI (mem:// or vault://host:port/mount/path?token=)",
	},
	&cli.StringFlag{
		Name:  "storage-uris",
		Value: "mem://primary/",
		Usage: "comma-separated storage backend URIs; the first is authoritative, the rest are best-effort mirrors",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "file-registry",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "registry-server",
		Usage: "Serve the file collection registry API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			kvURI := cCtx.String("kv-uri")
			storageURIs := cCtx.String("storage-uris")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			logger.Info("Connecting to key-value store", "uri", kvURI)
			kv, err := kvstore.StoreFor(kvURI, logger)
			if err != nil {
				logger.Error("Failed to create key-value store", "err", err)
				return err
			}

			var locations []interfaces.StorageBackendLocation
			for _, raw := range strings.Split(storageURIs, ",") {
				loc, err := interfaces.NewStorageBackendLocation(strings.TrimSpace(raw))
				if err != nil {
					logger.Error("Invalid storage URI", "uri", raw, "err", err)
					return err
				}
				locations = append(locations, loc)
			}
			if len(locations) == 0 {
				return fmt.Errorf("at least one storage URI is required")
			}

			factory := storage.NewFactory(logger)
			var backend interfaces.StorageBackend
			if len(locations) == 1 {
				backend, err = factory.StorageBackendFor(locations[0])
			} else {
				backend, err = factory.CreateMirroredBackend(locations)
			}
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}
			logger.Info("Storage backend ready", "backend", backend.Name())

			reg := registry.New(kv, logger)
			handler := httpserver.NewHandler(reg,
				uploader.NewCoordinator(reg, backend, logger),
				uploader.NewAccessResolver(backend, logger),
				logger)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			logger.Info("Shutting down")
			server.Shutdown()
			reg.Flush()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
