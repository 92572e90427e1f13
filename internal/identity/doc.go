// Package identity decodes the signed session token handed to the chat
// client by the token-issuance endpoint.
//
// The decoded user id seeds the broker subscription topic
// ("user-{id}-messages") and the raw token seeds the bearer header used for
// the inbound webhook and subscription registration calls.
package identity
