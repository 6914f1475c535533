package model

import (
	"encoding/json"
	"errors"
	"time"
)

// MasterNodeID keys the master's own snapshot inside a FleetView.
const MasterNodeID = "master"

// NodeResult is either a snapshot or a failure for one node in one poll cycle.
type NodeResult struct {
	Snapshot *NodeSnapshot
	Error    string
}

type failureMarker struct {
	Error string `json:"error"`
}

func Failed(err error) NodeResult {
	msg := "unable to fetch data"
	if err != nil {
		msg = err.Error()
	}
	return NodeResult{Error: msg}
}

func Succeeded(s NodeSnapshot) NodeResult {
	return NodeResult{Snapshot: &s}
}

func (r NodeResult) OK() bool {
	return r.Snapshot != nil && r.Error == ""
}

func (r NodeResult) MarshalJSON() ([]byte, error) {
	if r.OK() {
		return json.Marshal(r.Snapshot)
	}
	return json.Marshal(failureMarker{Error: r.Error})
}

func (r *NodeResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Error != nil {
		*r = NodeResult{Error: *probe.Error}
		return nil
	}
	var s NodeSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Hostname == "" && s.NodeID == "" {
		return errors.New("node snapshot has neither hostname nor node_id")
	}
	*r = Succeeded(s)
	return nil
}

// FleetView is one poll cycle's merged result. Nodes is rebuilt from scratch
// every cycle; a node that failed this cycle is a failure, never a stale copy.
type FleetView struct {
	CycleID    string                `json:"cycle_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Nodes      map[string]NodeResult `json:"nodes"`
}

func (v FleetView) Failures() int {
	n := 0
	for _, r := range v.Nodes {
		if !r.OK() {
			n++
		}
	}
	return n
}
