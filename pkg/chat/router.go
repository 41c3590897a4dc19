package chat

import (
	"fmt"

	"github.com/aeolun/linechat/pkg/protocol"
)

// Delivery describes what happened to a direct message
type Delivery uint8

const (
	Delivered Delivery = iota // shown to the online recipient
	Queued                    // stored in the recipient's offline mailbox
	Discarded                 // dropped because the recipient blocks the sender
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return DeliveryDirect
	case Queued:
		return DeliveryOffline
	case Discarded:
		return DeliveryDiscarded
	}
	return fmt.Sprintf("Delivery(%d)", uint8(d))
}

// Router delivers direct and broadcast messages. It looks recipients up in
// the registry on every call and never keeps handles.
type Router struct {
	creds    CredentialStore
	registry *Registry
	mailbox  *Mailbox
	metrics  *Metrics
}

// Direct sends body from one user to another. A blocked message still
// reports success to the caller (Discarded), so senders cannot tell. When
// the write to an online recipient fails, the recipient is disconnected and
// the message is queued for their next login.
func (r *Router) Direct(from, to, body string) (Delivery, error) {
	if to == from {
		return 0, fmt.Errorf("message %s: %w", to, ErrSelfTarget)
	}
	if !r.creds.Exists(to) {
		return 0, fmt.Errorf("message %s: %w", to, ErrUnknownUser)
	}

	line := protocol.ChatLine(from, body)
	var delivery Delivery
	for {
		h, queued := r.mailbox.EnqueueIfOffline(to, line, r.registry.Lookup)
		if queued {
			delivery = Queued
			break
		}
		shown, err := h.DeliverDirect(from, body)
		if err == nil {
			delivery = Discarded
			if shown {
				delivery = Delivered
			}
			break
		}
		// The recipient's connection is broken: drop it and retry, which
		// queues the message unless a new session has taken its place.
		errorLog.Printf("Router: direct message %s -> %s failed: %v", from, to, err)
		r.registry.DisconnectHandle(to, h)
	}

	r.metrics.RecordDelivery(delivery.String())
	debugLog.Printf("Router: %s -> %s %s", from, to, delivery)
	return delivery, nil
}

// Broadcast shows body to every online user except from, ignoring block
// lists. It returns the number of recipients that received it; recipients
// whose connection fails are disconnected.
func (r *Router) Broadcast(from, body string) int {
	recipients := 0
	for _, e := range r.registry.Snapshot() {
		if e.Username == from {
			continue
		}
		if err := e.Handle.DeliverBroadcast(from, body); err != nil {
			errorLog.Printf("Router: broadcast %s -> %s failed: %v", from, e.Username, err)
			r.registry.DisconnectHandle(e.Username, e.Handle)
			continue
		}
		recipients++
	}

	r.metrics.RecordDelivery(DeliveryBroadcast)
	debugLog.Printf("Router: %s broadcast to %d users", from, recipients)
	return recipients
}
