// Package config defines taskqd configuration: queue policy knobs (retry
// budget, lease duration, dedup window, dead-letter retention), storage
// location, and HTTP settings. Values come from built-in defaults, an
// optional JSON file, and TASKQ_* environment overlays, in that order.
package config
