// Package media captures attachments before they are sent.
//
// The Recorder drives a microphone encoder through idle, recording and
// stopped. Start picks the first preferred container the platform can
// encode. Stop joins the buffered chunks into one blob and asks a Prober to
// decode it within a short timeout. Some encoder and container pairs
// produce files the platform later refuses to play, so a blob that fails
// the probe becomes an errored draft right away instead of failing at
// playback time.
//
// Drafts is the list of attachments the user has picked or recorded. It is
// kept apart from the conversation until the message is sent.
package media
