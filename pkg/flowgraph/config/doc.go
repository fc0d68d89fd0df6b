/*
Package config holds the engine configuration file and typed access to node
params.

# Engine configuration

Engine is loaded from YAML or JSON, filled with defaults and validated:

	cfg, err := config.FromFile("voide.yaml")
	if err != nil {
	    log.Fatal(err)
	}

A complete file:

	telemetry:
	  ring_path: /home/me/.cache/voide/telemetry.ring
	  ring_size_mb: 8
	  heartbeat_interval: 100ms
	  wire_dedup_window: 10ms
	  stall_timeout: 3s
	  fallback: {type: udp, host: 127.0.0.1, port: 43817}
	run:
	  max_concurrency: 4
	  failure_policy: isolate
	  node_timeout: 5s
	  retry_attempts: 2
	  retry_backoff: 200ms
	store: {driver: sqlite, path: runs.db}
	log: {level: debug, format: json}

# Node params

Values wraps a node's params map. Accessors never fail; they return the
given default when the key is missing or holds the wrong type:

	params := config.NewValues(node.Params)
	model := params.String("model", "default")
	maxTokens := params.Int("max_tokens", 256)
	timeout := params.Duration("timeout", 5*time.Second)

Numbers decoded from JSON (float64 or json.Number) are accepted by Int and
Float. Duration accepts Go duration strings; bare numbers are milliseconds.

Values is safe for concurrent reads as long as the wrapped map is not
modified.
*/
package config
