/*
Package metrics provides Prometheus metrics for the inventory service.

All metrics are registered at init and exposed through Handler on the API
server's /metrics endpoint. Request and task metrics are recorded inline by
the api and reconciler packages; inventory gauges (hardware by type, tasks
by state, window count) are refreshed by the Collector, which samples the
store on a fixed interval.

Timer is a small helper for observing durations into histograms without
repeating the time.Since arithmetic at every call site.
*/
package metrics
