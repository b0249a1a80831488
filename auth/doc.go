// Package auth resolves the identity a query cache acts on behalf of.
//
// A TokenParser validates a signed JWT and builds an Identity from its claims.
// The identity travels in the request context, and its ScopePrefix partitions
// cache keys so one principal never reads another principal's entries.
package auth
