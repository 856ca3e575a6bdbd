// Package bacnet provides the transport layer for talking to BACnet
// field devices.
//
// The core never speaks BACnet/IP itself. All bus traffic goes through
// a gateway service that proxies Who-Is broadcasts and ReadProperty
// requests over HTTP. The Transport interface abstracts that gateway
// so discovery, cataloging and collection can be tested against fakes.
//
// # Error Taxonomy
//
// Callers distinguish two failure classes:
//
//   - ConnectivityError: the device (or the gateway itself) could not
//     be reached. Collection treats this as evidence the device may be
//     offline.
//   - ProtocolError: the device answered, but the request failed
//     (unknown property, rejected read). The device is alive; only the
//     individual operation failed.
//
// ErrTimeout wraps deadline expiry and matches errors.Is on both
// context.DeadlineExceeded paths and gateway-reported timeouts.
package bacnet
