// Package events provides an in-memory event broker for pub/sub
// messaging between the scan scheduler and interactive clients.
//
// Publish is non-blocking with respect to subscribers: a subscriber whose
// queue is full simply misses the event. Every subscriber sees its own
// events in FIFO order; cross-subscriber ordering is only guaranteed by
// the event's timestamp field.
package events
