package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys in every log statement so admission records can be queried
// uniformly across members.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection identity
	KeyConnID     = "conn_id"     // Transport-assigned connection identifier
	KeyClientAddr = "client_addr" // Remote host:port of the peer
	KeyClientIP   = "client_ip"   // Remote host without port
	KeyActive     = "active"      // Active connection count
	KeyProtocol   = "protocol"    // Adapter name

	// Request & admission
	KeyCommand   = "command"   // Wire command: AUTH, PING, LOGOUT
	KeyMechanism = "mechanism" // Credential mechanism: group, jwt, krb5, password
	KeyBackend   = "backend"   // Configured security backend name
	KeyPrincipal = "principal" // Authenticated principal
	KeyOutcome   = "outcome"   // Admission outcome
	KeyStatus    = "status"    // Wire response status

	// Cluster binding
	KeyAddress   = "address"   // Bound cluster address
	KeyPartition = "partition" // Engine partition index
	KeyOperation = "operation" // Engine operation name

	// Generic
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyPath       = "path"
	KeyPort       = "port"
	KeyCount      = "count"
)

// ConnID returns a slog.Attr for a connection identifier.
func ConnID(id uint64) slog.Attr {
	return slog.Uint64(KeyConnID, id)
}

// ClientAddr returns a slog.Attr for the remote peer address.
func ClientAddr(addr string) slog.Attr {
	return slog.String(KeyClientAddr, addr)
}

// Mechanism returns a slog.Attr for the credential mechanism.
func Mechanism(m string) slog.Attr {
	return slog.String(KeyMechanism, m)
}

// Outcome returns a slog.Attr for an admission outcome.
func Outcome(o string) slog.Attr {
	return slog.String(KeyOutcome, o)
}

// Principal returns a slog.Attr for an authenticated principal.
func Principal(p string) slog.Attr {
	return slog.String(KeyPrincipal, p)
}

// Address returns a slog.Attr for a bound cluster address.
func Address(a string) slog.Attr {
	return slog.String(KeyAddress, a)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
