// Package outbound sends what the user does back to the bot.
//
// Every intent follows the same path: a correlation id is generated, an
// optimistic message is appended to the conversation so the user never
// waits on the network, and then the envelope is delivered twice, to the
// inbound webhook over HTTP and to the outbound broker topic. The broker
// write only happens when the transport is connected at send time; it is
// never queued or retried. Delivery failures are logged and never roll back
// the optimistic message.
//
// After a send the pipeline is waiting for the bot. Only BotResponded clears
// that flag, so a reply that never comes leaves it set.
package outbound
