// Package notify stores announcement records surfaced through the hub.
//
// The typical source is a mail relay that forwards billing emails
// (electricity, water) as notifications. Records are deduplicated by
// sender, subject and receipt time, so the relay may deliver the same
// email more than once without producing duplicate announcements.
package notify
