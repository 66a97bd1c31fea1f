package queue

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SwitchMasterEvent is a parsed `+switch-master` announcement:
// <master-name> <old-host> <old-port> <new-host> <new-port>.
type SwitchMasterEvent struct {
	MasterName string
	OldHost    string
	OldPort    string
	NewHost    string
	NewPort    string
}

// EventHandler is the small listener interface adapting the Sentinel
// pub/sub channel to the recovery manager.
type EventHandler struct {
	OnSwitchMaster func(SwitchMasterEvent)
}

// EventSubscriber holds a dedicated Sentinel connection used only for
// pattern-subscribing to quorum announcements; FailoverClient does not
// expose pub/sub directly.
type EventSubscriber struct {
	conn    *redis.Client
	pubsub  *redis.PubSub
	handler EventHandler
	log     zerolog.Logger
}

// NewEventSubscriber dials a single Sentinel endpoint for pub/sub use.
func NewEventSubscriber(sentinelAddr string, handler EventHandler, log zerolog.Logger) *EventSubscriber {
	return &EventSubscriber{
		conn:    redis.NewClient(&redis.Options{Addr: sentinelAddr}),
		handler: handler,
		log:     log,
	}
}

// Run pattern-subscribes to every channel and dispatches messages until ctx
// is canceled.
func (s *EventSubscriber) Run(ctx context.Context) {
	s.pubsub = s.conn.PSubscribe(ctx, "*")
	defer s.pubsub.Close()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(msg)
		}
	}
}

func (s *EventSubscriber) dispatch(msg *redis.Message) {
	if msg.Channel != "+switch-master" {
		return
	}
	fields := strings.Fields(msg.Payload)
	if len(fields) != 5 {
		s.log.Warn().Str("payload", msg.Payload).Msg("malformed +switch-master message")
		return
	}
	ev := SwitchMasterEvent{
		MasterName: fields[0],
		OldHost:    fields[1],
		OldPort:    fields[2],
		NewHost:    fields[3],
		NewPort:    fields[4],
	}
	if s.handler.OnSwitchMaster != nil {
		s.handler.OnSwitchMaster(ev)
	}
}

// Close releases the dedicated Sentinel connection.
func (s *EventSubscriber) Close() error {
	return s.conn.Close()
}
