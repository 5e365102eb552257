// Package config loads Endure worker configuration.
//
// Configuration is read from an optional YAML file, then overridden by
// environment variables, then validated:
//
//	engine:
//	  base_url: http://localhost:8000
//	  timeout: 10s
//	execution:
//	  report_interval: 200ms
//	  report_max_tries: 3
//	  fan_out_limit: 8
//	store:
//	  driver: sqlite
//	  path: endure.db
//	actions:
//	  process_refund:
//	    mechanism: linear
//	    base_delay: 2s
//	    max_retries: 5
//
// Recognised environment variables include DURABLE_ENGINE_BASE_URL,
// ENDURE_REPORT_INTERVAL, ENDURE_REPORT_MAX_TRIES, ENDURE_STORE_DRIVER,
// ENDURE_STORE_PATH, ENDURE_REDIS_ADDR and LOG_LEVEL.
//
// The actions section overrides declared retry policies by action name.
// Watch reloads the file on change so overrides apply to executions that
// start afterwards.
package config
