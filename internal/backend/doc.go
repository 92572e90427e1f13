// Package backend is the HTTP client for the portal backend endpoints the
// chat client depends on but does not own: token issuance, subscription
// registration, and the inbound webhook that receives user messages.
package backend
