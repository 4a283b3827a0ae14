// Package queue provides the in-process hand-off between the stream indexer
// (single producer) and the event consumer (single consumer).
//
// The queue is bounded. When it is full the configured Policy decides whether
// the producer blocks (optionally up to a timeout) or the oldest queued item is
// dropped. Either side can end the hand-off: the producer calls Close once it
// will push no more items, the consumer calls Detach when it stops receiving,
// after which every Push fails with ErrConsumerGone.
//
// Items are delivered in FIFO order.
package queue
