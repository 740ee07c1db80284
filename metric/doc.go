// Package metric owns the prometheus registry for ziggurat.
//
// MetricsRegistry wraps a prometheus.Registry, registers the core stream
// metrics plus the Go and process collectors, and lets other packages
// register their own collectors under a service name. Server exposes the
// registry over HTTP.
//
// Core stream metrics:
//
//	ziggurat_message_read_total{app_name,topic_name}
//	ziggurat_message_received_delay_seconds{app_name,topic_name}
//	ziggurat_stream_joins_message_read_total{app_name,topic_name,input_topic}
//	ziggurat_stream_joins_message_received_delay_seconds{app_name,topic_name,input_topic}
//	ziggurat_pipeline_state{topic_name}
//	ziggurat_uncaught_errors_total{topic_name}
//	ziggurat_handler_duration_seconds{topic_name,status}
package metric
