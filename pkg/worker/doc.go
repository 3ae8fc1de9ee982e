/*
Package worker defines the contract between the reconciler and the driver
plugins that sync hardware to downstream services.

A worker is a pure function over (context, hardware, availability windows,
state details) returning a tagged Result: Success, Defer, or Error. The
reconciler is the sole interpreter of results; workers never touch the store.
Communication between executions of the same task happens exclusively through
the persisted state_details payload keys.

Workers also declare Fields, the typed property slots they own on a
Hardware. Field schemas compose into the enroll validation schema, and the
private/sensitive flags drive API serialization.
*/
package worker
