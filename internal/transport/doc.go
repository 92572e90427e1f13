// Package transport owns the publish/subscribe connection to the message
// broker.
//
// # Overview
//
// A Client is bound to exactly one subscription topic for its whole life.
// Dial returns immediately and connects in the background; the broker
// reconnects at a fixed interval and the client re-subscribes to its topic
// after every (re)connection. Connection state is level-triggered: callers
// read Connected() or register OnStatus observers to drive an offline
// indicator.
//
//	c, err := transport.Dial(opts, session.Topic(), onMessage)
//	defer c.Close()
//
// # Failure handling
//
//   - connect failure: logged, retried, Connected() stays false
//   - subscribe failure: logged, the client stays up
//   - payload that is not a JSON object: dropped with a warning
//   - Publish while disconnected: ErrNotConnected, nothing queued
//
// Close forcibly disconnects and waits for the client's goroutines, so no
// socket outlives the client. Switching topics means closing the old client
// before dialing a new one.
//
// The default Dialer is Eclipse Paho MQTT (tcp, ssl, ws and wss URLs).
package transport
