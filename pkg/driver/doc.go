/*
Package driver manages the compile-time registry of hardware types and
workers.

Drivers register themselves from init functions in their own packages;
importing a driver package (normally done with blank imports from
cmd/foundry) makes it available. Load filters the registry down to the
enabled_hardware_types / enabled_worker_types configuration lists, passes
each enabled worker its config group, and returns an immutable Registry
shared by the API server, the store, and the reconciler.
*/
package driver
