package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// GossipPacket is the payload carried inside a GossipMessage (§4.3): a
// partial view of one channel's CRDT state that the receiver merges
// key-by-key via MergeNode/MergeTask/MergeProposal/MergeCommonTool. A
// packet never carries the execution log or ratification votes — those
// propagate only through ratification, not gossip (§4.7, §4.8).
type GossipPacket struct {
	Channel     string                 `json:"channel"`
	Nodes       map[string]*Node       `json:"nodes,omitempty"`
	Tasks       map[string]*Task       `json:"tasks,omitempty"`
	Proposals   map[string]*Proposal   `json:"proposals,omitempty"`
	CommonTools map[string]*CommonTool `json:"common_tools,omitempty"`
}

// EncodeGossipPacket serializes a packet for Transport.Publish.
func EncodeGossipPacket(pkt *GossipPacket) ([]byte, error) {
	return json.Marshal(pkt)
}

// DecodeGossipPacket parses an inbound gossip payload.
func DecodeGossipPacket(data []byte) (*GossipPacket, error) {
	var pkt GossipPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		return nil, fmt.Errorf("decode gossip packet: %w", err)
	}
	return &pkt, nil
}

// BuildGossipPacket snapshots a channel's full node/task/proposal/common-tool
// maps for fan-out (§4.3, §5: "every gossip_interval_seconds, each node
// publishes its full known state for every channel it subscribes to").
func BuildGossipPacket(gs *GlobalState, channelID string) *GossipPacket {
	pkt := &GossipPacket{
		Channel:     channelID,
		Nodes:       map[string]*Node{},
		Tasks:       map[string]*Task{},
		Proposals:   map[string]*Proposal{},
		CommonTools: map[string]*CommonTool{},
	}
	for id, n := range gs.Nodes {
		if n.SubscribedChannels[channelID] {
			pkt.Nodes[id] = n
		}
	}
	if ch, ok := gs.Channels[channelID]; ok {
		for id, t := range ch.Tasks {
			pkt.Tasks[id] = t
		}
		for id, p := range ch.Proposals {
			pkt.Proposals[id] = p
		}
		for id, c := range ch.CommonTools {
			pkt.CommonTools[id] = c
		}
	}
	return pkt
}

// MergeGossipPacket merges every entity in pkt into gs using the type's LWW
// rule (§4.4). It is the single entrypoint the transport's message handler
// calls for every authenticated inbound packet.
func MergeGossipPacket(gs *GlobalState, pkt *GossipPacket, now time.Time) {
	if pkt == nil {
		return
	}
	for id, incoming := range pkt.Nodes {
		merged, _ := MergeNode(gs.Nodes[id], incoming, now)
		gs.Nodes[id] = merged
	}
	if pkt.Channel == "" {
		return
	}
	ch := gs.Channel(pkt.Channel)
	for id, incoming := range pkt.Tasks {
		merged, _ := MergeTask(ch.Tasks[id], incoming, now)
		ch.Tasks[id] = merged
	}
	for id, incoming := range pkt.Proposals {
		merged, _ := MergeProposal(ch.Proposals[id], incoming, now)
		ch.Proposals[id] = merged
	}
	for id, incoming := range pkt.CommonTools {
		merged, _ := MergeCommonTool(ch.CommonTools[id], incoming, now)
		ch.CommonTools[id] = merged
	}
}
