package quest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a quest lifecycle state. Completed is terminal.
type State string

const (
	StateLocked    State = "LOCKED"
	StateAvailable State = "AVAILABLE"
	StateActive    State = "ACTIVE"
	StatePending   State = "PENDING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Action is a lifecycle transition trigger.
type Action string

const (
	ActionUnlock  Action = "unlock"
	ActionStart   Action = "start"
	ActionSubmit  Action = "submit"
	ActionVerify  Action = "verify"
	ActionReject  Action = "reject"
	ActionAbandon Action = "abandon"
	ActionRetry   Action = "retry"
	ActionLock    Action = "lock"
)

// transition defines one edge family of the lifecycle graph.
type transition struct {
	from []State
	to   State
}

var transitions = map[Action]transition{
	ActionUnlock:  {from: []State{StateLocked}, to: StateAvailable},
	ActionStart:   {from: []State{StateAvailable}, to: StateActive},
	ActionSubmit:  {from: []State{StateActive}, to: StatePending},
	ActionVerify:  {from: []State{StatePending}, to: StateCompleted},
	ActionReject:  {from: []State{StatePending}, to: StateFailed},
	ActionAbandon: {from: []State{StateActive, StatePending}, to: StateAvailable},
	ActionRetry:   {from: []State{StateFailed}, to: StateAvailable},
	ActionLock:    {from: []State{StateAvailable}, to: StateLocked},
}

// HistoryEntry records one transition. Entries are append-only.
type HistoryEntry struct {
	ID        string         `json:"id"`
	State     State          `json:"state"`
	Previous  State          `json:"previousState"`
	Action    Action         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Forced    bool           `json:"forced,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Transition is what machine subscribers receive.
type Transition struct {
	QuestID string
	From    State
	To      State
	Action  Action
	Forced  bool
}

// Machine is the finite state machine for a single (user, quest) pair.
// Not safe for concurrent use; the owning Manager serializes access.
type Machine struct {
	questID string
	state   State
	history []HistoryEntry
	subs    []func(Transition)
}

// NewMachine creates a machine in the given initial state.
func NewMachine(questID string, initial State) *Machine {
	return &Machine{questID: questID, state: initial}
}

// QuestID returns the quest this machine tracks.
func (m *Machine) QuestID() string { return m.questID }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns a copy of the transition history, oldest first.
func (m *Machine) History() []HistoryEntry {
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers an observer notified synchronously, in
// registration order, after every transition.
func (m *Machine) Subscribe(fn func(Transition)) {
	m.subs = append(m.subs, fn)
}

// Can reports whether action is legal from the current state.
func (m *Machine) Can(action Action) bool {
	tr, ok := transitions[action]
	if !ok {
		return false
	}
	for _, s := range tr.from {
		if s == m.state {
			return true
		}
	}
	return false
}

// Perform applies action if it is legal from the current state. On
// success it mutates state, appends a history entry, and notifies
// subscribers; on failure it leaves state and history untouched and
// returns false.
func (m *Machine) Perform(action Action, metadata map[string]any) bool {
	if !m.Can(action) {
		return false
	}
	tr := transitions[action]
	m.apply(action, tr.to, metadata, false)
	return true
}

// Force moves the machine to state without validation, tagging the
// history entry as forced. Reserved for data-repair paths.
func (m *Machine) Force(to State, reason string) {
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	m.apply("", to, meta, true)
}

func (m *Machine) apply(action Action, to State, metadata map[string]any, forced bool) {
	from := m.state
	m.state = to
	m.history = append(m.history, HistoryEntry{
		ID:        uuid.NewString(),
		State:     to,
		Previous:  from,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Forced:    forced,
		Metadata:  metadata,
	})
	t := Transition{QuestID: m.questID, From: from, To: to, Action: action, Forced: forced}
	for _, fn := range m.subs {
		fn(t)
	}
}

// machineJSON is the persisted wire form.
type machineJSON struct {
	QuestID string         `json:"questId"`
	State   State          `json:"state"`
	History []HistoryEntry `json:"history"`
}

// MarshalJSON serializes {questId, state, history}.
func (m *Machine) MarshalJSON() ([]byte, error) {
	return json.Marshal(machineJSON{
		QuestID: m.questID,
		State:   m.state,
		History: m.history,
	})
}

// UnmarshalJSON restores a machine so that a marshal/unmarshal cycle
// round-trips exactly. Subscribers are not serialized.
func (m *Machine) UnmarshalJSON(data []byte) error {
	var mj machineJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return fmt.Errorf("unmarshal quest machine: %w", err)
	}
	if mj.QuestID == "" {
		return fmt.Errorf("unmarshal quest machine: missing questId")
	}
	m.questID = mj.QuestID
	m.state = mj.State
	m.history = mj.History
	return nil
}
