package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/bus"
)

const nextUpQueueVersion = 1

// PinKey identifies a pin by its initiative and workstream.
type PinKey struct {
	InitiativeID string `json:"initiativeId"`
	WorkstreamID string `json:"workstreamId"`
}

func (k PinKey) normalized() PinKey {
	return PinKey{InitiativeID: strings.TrimSpace(k.InitiativeID), WorkstreamID: strings.TrimSpace(k.WorkstreamID)}
}

// Valid reports whether both halves of the key are set.
func (k PinKey) Valid() bool {
	n := k.normalized()
	return n.InitiativeID != "" && n.WorkstreamID != ""
}

func (k PinKey) String() string { return k.InitiativeID + "/" + k.WorkstreamID }

// NextUpPin marks a workstream as "work on this next".
type NextUpPin struct {
	InitiativeID         string    `json:"initiativeId"`
	WorkstreamID         string    `json:"workstreamId"`
	PreferredTaskID      string    `json:"preferredTaskId,omitempty"`
	PreferredMilestoneID string    `json:"preferredMilestoneId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Key returns the pin's composite key.
func (p NextUpPin) Key() PinKey {
	return PinKey{InitiativeID: p.InitiativeID, WorkstreamID: p.WorkstreamID}.normalized()
}

// NextUpQueueState is the on-disk shape of next-up-queue.json. Pins are in
// display order.
type NextUpQueueState struct {
	Version   int         `json:"version"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Pins      []NextUpPin `json:"pins"`
}

// ReadNextUpQueue returns the ordered pins. Invalid and duplicate entries on
// disk are dropped, keeping the first.
func (s *Store) ReadNextUpQueue(ctx context.Context) NextUpQueueState {
	var raw NextUpQueueState
	state := NextUpQueueState{Version: nextUpQueueVersion, Pins: []NextUpPin{}}
	if !s.load(ctx, NextUpQueueFile, &raw, nil) {
		return state
	}
	state.UpdatedAt = raw.UpdatedAt
	seen := make(map[PinKey]bool, len(raw.Pins))
	for _, p := range raw.Pins {
		key := p.Key()
		if !key.Valid() || seen[key] {
			continue
		}
		seen[key] = true
		p.InitiativeID, p.WorkstreamID = key.InitiativeID, key.WorkstreamID
		state.Pins = append(state.Pins, p)
	}
	return state
}

// UpsertNextUpQueuePin inserts or updates pin and moves it to the front.
// Empty preference fields keep the stored values. An invalid key is a no-op.
func (s *Store) UpsertNextUpQueuePin(ctx context.Context, pin NextUpPin) (NextUpQueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.ReadNextUpQueue(ctx)
	key := pin.Key()
	if !key.Valid() {
		return state, nil
	}
	now := s.timestamp()
	next := NextUpPin{
		InitiativeID:         key.InitiativeID,
		WorkstreamID:         key.WorkstreamID,
		PreferredTaskID:      strings.TrimSpace(pin.PreferredTaskID),
		PreferredMilestoneID: strings.TrimSpace(pin.PreferredMilestoneID),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	rest := make([]NextUpPin, 0, len(state.Pins))
	for _, p := range state.Pins {
		if p.Key() != key {
			rest = append(rest, p)
			continue
		}
		next.CreatedAt = p.CreatedAt
		next.PreferredTaskID = firstNonEmpty(next.PreferredTaskID, p.PreferredTaskID)
		next.PreferredMilestoneID = firstNonEmpty(next.PreferredMilestoneID, p.PreferredMilestoneID)
	}
	state.Pins = append([]NextUpPin{next}, rest...)
	return s.saveNextUpLocked(ctx, state, now)
}

// RemoveNextUpQueuePin drops the pin with key. Unknown keys leave the file
// untouched.
func (s *Store) RemoveNextUpQueuePin(ctx context.Context, key PinKey) (NextUpQueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.ReadNextUpQueue(ctx)
	key = key.normalized()
	if !key.Valid() {
		return state, nil
	}
	kept := make([]NextUpPin, 0, len(state.Pins))
	for _, p := range state.Pins {
		if p.Key() != key {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(state.Pins) {
		return state, nil
	}
	state.Pins = kept
	return s.saveNextUpLocked(ctx, state, s.timestamp())
}

// SetNextUpQueuePinOrder reorders the queue to follow order. Keys not yet
// pinned are created; duplicates in order are skipped after the first; pins
// that order does not mention keep their relative order after the listed
// ones.
func (s *Store) SetNextUpQueuePinOrder(ctx context.Context, order []PinKey) (NextUpQueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.ReadNextUpQueue(ctx)
	now := s.timestamp()

	existing := make(map[PinKey]NextUpPin, len(state.Pins))
	for _, p := range state.Pins {
		existing[p.Key()] = p
	}

	placed := make(map[PinKey]bool, len(order))
	pins := make([]NextUpPin, 0, len(state.Pins)+len(order))
	for _, k := range order {
		k = k.normalized()
		if !k.Valid() || placed[k] {
			continue
		}
		placed[k] = true
		if p, ok := existing[k]; ok {
			pins = append(pins, p)
			continue
		}
		pins = append(pins, NextUpPin{
			InitiativeID: k.InitiativeID,
			WorkstreamID: k.WorkstreamID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	for _, p := range state.Pins {
		if !placed[p.Key()] {
			pins = append(pins, p)
		}
	}
	state.Pins = pins
	return s.saveNextUpLocked(ctx, state, now)
}

// ClearNextUpQueue deletes next-up-queue.json. Failures are ignored.
func (s *Store) ClearNextUpQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(NextUpQueueFile)
	s.bus.Publish(bus.TopicNextUpChanged, bus.NextUpEvent{})
}

func (s *Store) saveNextUpLocked(ctx context.Context, state NextUpQueueState, now time.Time) (NextUpQueueState, error) {
	if len(state.Pins) > MaxPins {
		state.Pins = state.Pins[:MaxPins]
	}
	state.Version = nextUpQueueVersion
	state.UpdatedAt = now
	if err := s.write(ctx, NextUpQueueFile, state); err != nil {
		return state, err
	}
	s.bus.Publish(bus.TopicNextUpChanged, bus.NextUpEvent{PinCount: len(state.Pins)})
	return state, nil
}
