package service

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/gridshare/gpu-cloud-service/api"
	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/dispatch"
	"gitlab.com/gridshare/gpu-cloud-service/internal/background_tasks"
	"gitlab.com/gridshare/gpu-cloud-service/internal/config"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
)

// Run wires the process: configuration, durable storage, the queue store,
// the connection manager, the background dispatch and sweep tasks, and the
// HTTP/WebSocket surface. Blocks serving requests.
func Run() {
	config.LoadConfig()
	cfg := config.GetConfig()

	if err := db.ConnectDatabase(cfg.Database.Path); err != nil {
		zlog.Sugar().Fatalf("failed to connect to database: %v", err)
	}

	queue := jobqueue.New(cfg.Redis.URL)
	manager := connection.NewManager()
	loop := dispatch.NewLoop(queue, manager, cfg.Dispatch.BatchSize)

	pollInterval := time.Duration(cfg.Dispatch.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	scheduler := background_tasks.NewScheduler(2)
	scheduler.AddTask(&background_tasks.Task{
		Name:        "job dispatch",
		Description: "matches pending jobs to available online hosts",
		Triggers:    []background_tasks.Trigger{&background_tasks.PeriodicTrigger{Interval: pollInterval}},
		Function: func(args interface{}) error {
			return loop.Tick(context.Background())
		},
	})
	scheduler.AddTask(&background_tasks.Task{
		Name:        "host liveness sweep",
		Description: "removes hosts whose status record expired from the active set",
		Triggers: []background_tasks.Trigger{&background_tasks.PeriodicTrigger{
			Interval: time.Minute,
			CronExpr: cfg.Dispatch.SweepCron,
		}},
		Function: func(args interface{}) error {
			return loop.Sweep(context.Background())
		},
	})
	scheduler.Start()
	defer scheduler.Stop()

	handlers := api.NewHandlers(queue, manager, loop)
	router := api.SetupRouter(handlers)

	addr := fmt.Sprintf(":%d", cfg.Rest.Port)
	zlog.Sugar().Infof("gpu cloud service listening on %s", addr)
	if err := router.Run(addr); err != nil {
		zlog.Sugar().Fatalf("server stopped: %v", err)
	}
}
