package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"power2energy/internal/config"
	"power2energy/internal/integrator"
	"power2energy/internal/modbus"
	"power2energy/internal/mqtt"
	"power2energy/internal/teleinfo"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting power2energy for entities: %v", cfg.Entities())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accumulator := integrator.NewAccumulator(integrator.Config{
		MaxGap: time.Duration(cfg.Integrator.MaxGapMinutes) * time.Minute,
	}, logger)

	client, err := mqtt.NewClient(cfg, accumulator, logger)
	if err != nil {
		logger.Fatalf("Failed to create MQTT client: %v", err)
	}

	client.SetTotalUpdateCallback(func(entity string, totalKWh float64) {
		logger.Debugf("Total for %s is now %.3fkWh", entity, totalKWh)
	})

	if err := client.Connect(); err != nil {
		logger.Fatalf("Failed to connect to MQTT: %v", err)
	}
	defer client.Disconnect()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		client.StartAvailabilityLoop(ctx)
	}()

	if cfg.Sources.Modbus.Enabled {
		poller := modbus.NewPoller(cfg.Sources.Modbus, logger, client.HandleReading)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Start(ctx)
		}()
	}

	if cfg.Sources.Teleinfo.Enabled {
		reader := teleinfo.NewReader(cfg.Sources.Teleinfo, logger, client.HandleReading)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Start(ctx); err != nil {
				logger.Errorf("Teleinfo reader error: %v", err)
				cancel()
			}
		}()
	}

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")
	cancel()

	wg.Wait()
	logger.Info("Shutdown complete")
}
