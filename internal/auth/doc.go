// Package auth provides authentication and authorization for fleet-hub.
//
// # Authentication
//
// Operators authenticate with a shared password exchanged for a JWT.
// Tokens are signed with HS256 using the configured jwt_secret and carry
// two claims beyond the standard set:
//
//   - sub: the login identity ("admin" or "museum")
//   - access_level: the privilege tier ("ADMIN" or "MUSEUM")
//
// Agent-facing endpoints (registration, heartbeat, duplex channels) are
// unauthenticated; agents are expected to live on a trusted network
// segment.
//
// # Authorization
//
// Each access level maps to a set of capability grants. A grant is either
// an exact capability name ("robot.view"), a suffix wildcard covering a
// namespace ("exhibition.*"), or the bare "*" catch-all held by ADMIN.
//
// Handlers check capabilities through the middleware:
//
//	mux.Handle("/api/robots", auth.RequireCapability("robot.view")(handler))
//
// # Context Propagation
//
// HTTPAuthMiddleware verifies the bearer token and attaches an
// AuthContext to the request context. Handlers read it back with
// FromContext.
package auth
