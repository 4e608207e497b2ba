package state

import (
	"encoding/json"
	"fmt"
)

// MarshalSnapshot serializes the persistent projection of the state.
// Transient members (the dedup index, the fan-out lock) are unexported and
// never serialized.
func (s *State) MarshalSnapshot() ([]byte, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling state snapshot: %w", err)
	}
	return blob, nil
}

// RestoreSnapshot rebuilds a state from a checkpoint blob and reestablishes
// the transient members.
func RestoreSnapshot(blob []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling state snapshot: %w", err)
	}
	if s.DraftSections == nil {
		s.DraftSections = make(map[string]string)
	}
	s.rebuildFactIndex()
	return &s, nil
}
