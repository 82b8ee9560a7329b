package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wisefido-surgical/common/logger"
	mqttcommon "wisefido-surgical/common/mqtt"
	"wisefido-surgical/internal/config"
	"wisefido-surgical/internal/simulator"

	"go.uber.org/zap"
)

func main() {
	robots := flag.Int("robots", 1, "number of simulated robots")
	interval := flag.Duration("interval", simulator.DefaultInterval, "sample interval per robot")
	seed := flag.Int64("seed", 0, "random seed (0 = time based)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-robot-sim")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = cfg.MQTT.ClientID + "-sim"
	client, err := mqttcommon.NewClient(&mqttCfg, log)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer client.Disconnect()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	emit := simulator.PublishTo(client, mqttCfg.QoS)
	var wg sync.WaitGroup
	for i := 1; i <= *robots; i++ {
		sim := simulator.NewRobotSimulator(simulator.Config{
			RobotID:  fmt.Sprintf("robot-sim-%d", i),
			Interval: *interval,
			Seed:     seedFor(*seed, i),
		}, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sim.Run(ctx, emit)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	log.Info("Robot simulator exited", zap.Int("robots", *robots))
}

func seedFor(base int64, idx int) int64 {
	if base == 0 {
		return time.Now().UnixNano() + int64(idx)
	}
	return base + int64(idx)
}
