/*
Package api exposes the REST surface for the hardware inventory.

The server is plain net/http with Go 1.22 method-and-pattern routes, wrapped
in a global rate limiter and Prometheus instrumentation.

# Endpoints

	GET    /v1/hardware                   list (project-scoped, paginated)
	POST   /v1/hardware                   enroll
	GET    /v1/hardware/export            public listing, non-admin view
	GET    /v1/hardware/{uuid}            fetch with worker task summary
	PATCH  /v1/hardware/{uuid}            JSON Patch update
	DELETE /v1/hardware/{uuid}            soft delete
	POST   /v1/hardware/{uuid}/sync       requeue worker tasks
	GET    /v1/hardware/{uuid}/availability
	GET    /healthz
	GET    /metrics

# Authorization

Requests authenticate with a bearer token resolved to an identity (user,
project, roles). Non-admins only see hardware in their own project; a
foreign item reads as 404 so tenancy is not probeable. Serialization
filters properties per hardware type, hides private fields from
non-admins, and always masks sensitive values. The export endpoint is the
one unauthenticated route and always serializes the non-admin view.
*/
package api
