/*
Package config loads and validates the service's YAML configuration.

A single file configures both server roles (API and worker) plus the
enabled hardware types and workers. Driver option groups are kept as raw
YAML nodes under drivers: and decoded on demand by each worker through
DecodeDriver, so the config package needs no knowledge of driver-specific
shapes.

Defaults come from Default; Load overlays the file on top of them and
Validate rejects configurations the service cannot run with.
*/
package config
