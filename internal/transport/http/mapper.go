package http

import (
	"encoding/json"
	"strings"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// inboundRoom extracts the room of a join_room or leave_room request.
func inboundRoom(inbound proto.Inbound) (string, *proto.Error) {
	var data proto.RoomData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return "", &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "malformed data"}
	}
	room := strings.TrimSpace(data.Room)
	if room == "" {
		return "", &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room is required"}
	}
	return room, nil
}

func protoError(err error) *proto.Error {
	coreErr := core.ToCoreError(err)
	if coreErr == nil {
		return nil
	}
	return &proto.Error{Code: coreErr.Code, Msg: coreErr.Message}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}
	switch event.Kind {
	case core.EventPresenceSnapshot:
		snapshot := proto.PresenceSnapshot{Users: []string{}}
		if event.Presence != nil {
			snapshot.Version = event.Presence.Version
			if event.Presence.UserIDs != nil {
				snapshot.Users = event.Presence.UserIDs
			}
		}
		out.Data = snapshot
	case core.EventConversationUpdate:
		out.Data = proto.ConversationUpdate{
			ConversationID: event.ConversationID,
			Payload:        event.Payload,
		}
	default:
		out.Data = event.Payload
	}
	return out
}
