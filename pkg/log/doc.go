/*
Package log configures the global zerolog logger.

Init sets the level and output format once at startup. Packages obtain
child loggers with bound context fields through WithComponent,
WithHardware and WithWorkerType rather than attaching the fields at every
call site.
*/
package log
