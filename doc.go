// Package taskflow is the client-facing surface of the taskflow services. It
// re-exports what an external program needs to put task events on the same
// topic the services consume: the configuration loader, the Producer and the
// event envelope.
//
// The services themselves live under cmd/:
//
//   - receiver: HTTP intake publishing create and complete events
//   - storage: consumes events into the task database and serves range queries
//   - processing: aggregates task statistics on a timer
//   - analyzer: audits events in memory
//   - anomaly: flags values beyond configured thresholds
//
// A minimal publisher:
//
//	cfg, err := taskflow.LoadConfig("configs/app_conf.yml")
//	producer, err := taskflow.NewProducer(ctx, cfg, taskflow.NewLogger(os.Stdout, "client", "info"))
//	traceID, err := producer.Publish(ctx, taskflow.EventCreate, map[string]any{
//		"task_name":        "write report",
//		"due_date":         "2025-01-31",
//		"task_description": "quarterly numbers",
//		"uuid":             "6f1c...",
//	})
//
// # Transports
//
// events.pubsub_system selects kafka, rabbitmq, nats or channel. Custom
// transports can be added with RegisterTransport.
package taskflow
