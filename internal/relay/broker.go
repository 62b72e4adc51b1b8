package relay

import (
	"context"
	"encoding/json"
	"log"

	"collab-relay/internal/models"
	"collab-relay/internal/store"
)

// Broker bridges the local rooms with the cross-replica ops bus. One
// pattern subscription covers every document; the publishing side lives in
// the session handler, which shares the same Bus.
type Broker struct {
	serverID string
	bus      Bus
	registry *Registry
}

func NewBroker(serverID string, bus Bus, registry *Registry) *Broker {
	return &Broker{
		serverID: serverID,
		bus:      bus,
		registry: registry,
	}
}

// Run consumes the ops subscription until ctx is cancelled. Each message
// is handled in full before the next is read, preserving per-channel bus
// order.
func (b *Broker) Run(ctx context.Context) {
	pubsub := b.bus.SubscribeOps(ctx)
	defer pubsub.Close()

	log.Printf("🔄 Broker subscribed to %s (server=%s)", store.OpsPattern, b.serverID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Println("Broker shutting down...")
			return
		case msg, ok := <-ch:
			if !ok {
				log.Println("Broker subscription closed")
				return
			}
			b.HandleBusMessage(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// HandleBusMessage processes one envelope off the bus: parse, drop our own
// echo, derive the document id from the channel name (envelope field as
// fallback), then let the room's version check decide. A message that
// fails to parse is dropped alone; the subscription keeps going.
func (b *Broker) HandleBusMessage(ctx context.Context, channel string, payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("⚠️  Broker dropping unparseable bus message on %s: %v", channel, err)
		return
	}

	if env.ServerID == b.serverID {
		// Echo of our own publish
		return
	}

	docID, ok := store.DocIDFromChannel(channel)
	if !ok {
		docID = env.DocID
	}
	if docID == "" {
		log.Printf("⚠️  Broker dropping bus message with no doc id on %s", channel)
		return
	}

	room := b.registry.GetOrLoad(ctx, docID)
	room.ApplyRemote(&env)
}
