/*
Package schema compiles and applies the JSON-Schema documents that guard
API input.

Schemas are built as plain map[string]any fragments (String, Email,
HostOrIP, ...) composed by the hardware types and workers into their field
definitions. EnrollDocument assembles the full enrollment schema from the
registry: a base object schema allOf a oneOf with one branch per enabled
hardware type, each branch pinning hardware_type to a constant and closing
the property set. Unknown properties are therefore rejected at the branch
matching the declared type.

The host-or-ip format is registered with the compiler; values must be an
IP literal or a DNS hostname.

Validation failures wrap ErrInvalid so handlers map them to HTTP 400 with
the compiler's pointer-accurate message.
*/
package schema
