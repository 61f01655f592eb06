package server

import (
	"strings"

	"github.com/wsrelay/core/src/bridge"
	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/rooms"
)

const roomChannelPrefix = "ws:room:"

// crossNodeBroadcaster wraps the local room registry so that a
// broadcast both fans out to this node's members and publishes to the
// optional PubSub bridge for other nodes to relay to theirs, an opt-in
// path for multi-node scale-out.
type crossNodeBroadcaster struct {
	rooms  *rooms.Registry
	pubsub bridge.PubSub
}

func (b *crossNodeBroadcaster) Broadcast(roomID string, msg codec.Message, excludeSessionID string) int {
	delivered := b.rooms.Broadcast(roomID, msg, excludeSessionID)
	if b.pubsub != nil {
		_ = b.pubsub.Publish(roomChannelPrefix+roomID, bridge.Message{
			Channel: roomChannelPrefix + roomID,
			Data:    map[string]any{"event": msg.Event, "payload": msg.Payload},
		})
	}
	return delivered
}

// relayFromBridge subscribes to every room channel published by other
// instances and fans each one out to this node's local room members.
// The bridge itself skips self-originated messages, so no loop-back
// guard is needed here.
func (s *Server) relayFromBridge() {
	if s.opts.PubSub == nil {
		return
	}
	stream, err := s.opts.PubSub.Subscribe(roomChannelPrefix + "*")
	if err != nil {
		s.opts.Logger.Error().Err(err).Msg("failed to subscribe to room bridge channel")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range stream {
			roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			event, _ := msg.Data["event"].(string)
			payload, _ := msg.Data["payload"].(map[string]any)
			s.rooms.Broadcast(roomID, codec.Message{Event: event, Payload: payload}, "")
		}
	}()
}
