package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath        string
	port              int
	workerName        string
	prefetch          int
	heartbeatInterval time.Duration
)

var (
	rootCmd = &cobra.Command{
		Use:          "printforge",
		Short:        "Custom 3D print order pipeline",
		SilenceUsage: true,
	}

	orderServiceCmd = &cobra.Command{
		Use:   "order-service",
		Short: "Serve the custom order HTTP API",
		RunE:  runOrderService,
	}

	slicerWorkerCmd = &cobra.Command{
		Use:   "slicer-worker",
		Short: "Consume slice jobs and run the slicing engine",
		RunE:  runSlicerWorker,
	}

	notificationSubscriberCmd = &cobra.Command{
		Use:   "notification-subscriber",
		Short: "Print order status notifications",
		RunE:  runNotificationSubscriber,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file (empty to use env only)")

	orderServiceCmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")

	slicerWorkerCmd.Flags().StringVar(&workerName, "worker-name", "", "Unique worker name")
	slicerWorkerCmd.Flags().IntVar(&prefetch, "prefetch", 0, "Concurrent slice jobs (overrides slicer.pool_size)")
	slicerWorkerCmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "Heartbeat interval (overrides slicer.heartbeat_interval)")
	_ = slicerWorkerCmd.MarkFlagRequired("worker-name")

	rootCmd.AddCommand(orderServiceCmd, slicerWorkerCmd, notificationSubscriberCmd)
}
