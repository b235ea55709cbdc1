package session

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/burattino/pkg/chat"
	"github.com/go-go-golems/burattino/pkg/hooks"
	"github.com/go-go-golems/burattino/pkg/memory"
	"github.com/go-go-golems/burattino/pkg/tools"
)

const stateVersion = 1

// ToolState records the registration shape of one tool. Implementations are
// functions and cannot be serialized; on restore the host re-registers them
// and the state reapplies visibility.
type ToolState struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group,omitempty"`
}

// State is a serializable snapshot of a conversation: the message history
// plus the registry and hook shape needed to resume it.
type State struct {
	Version   int                  `yaml:"version"`
	SessionID string               `yaml:"session_id"`
	SavedAt   time.Time            `yaml:"saved_at"`
	Messages  []chat.Message       `yaml:"messages"`
	Tools     []ToolState          `yaml:"tools,omitempty"`
	Groups    []tools.Group        `yaml:"groups,omitempty"`
	Hooks     []hooks.Registration `yaml:"hooks,omitempty"`
}

// Capture snapshots the memory, registry, and hook chain into a State.
func Capture(sessionID string, mem memory.Memory, reg *tools.Registry, chain *hooks.Chain) *State {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	st := &State{
		Version:   stateVersion,
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
		Messages:  mem.Messages(),
	}
	if reg != nil {
		for _, name := range reg.Names() {
			def, ok := reg.Get(name)
			if !ok {
				continue
			}
			st.Tools = append(st.Tools, ToolState{Name: def.Name, Group: def.Group})
		}
		st.Groups = reg.Groups()
	}
	if chain != nil {
		st.Hooks = chain.Snapshot()
	}
	return st
}

// Restore replays the state into a fresh memory and reapplies group
// visibility to the registry. Tools named in the state but absent from the
// registry are returned so the host can decide whether to proceed.
func Restore(st *State, mem memory.Memory, reg *tools.Registry) ([]string, error) {
	if st == nil {
		return nil, errors.New("nil session state")
	}
	if st.Version != stateVersion {
		return nil, errors.Errorf("unsupported session state version %d", st.Version)
	}

	mem.Clear()
	for _, msg := range st.Messages {
		if err := mem.Append(msg); err != nil {
			return nil, errors.Wrapf(err, "could not restore message %s", msg.ID)
		}
	}

	var missing []string
	if reg != nil {
		for _, ts := range st.Tools {
			if _, ok := reg.Get(ts.Name); !ok {
				missing = append(missing, ts.Name)
			}
		}
		for _, g := range st.Groups {
			reg.DefineGroup(g.Name, g.Description)
			if err := reg.SetGroupActive(g.Name, g.Active); err != nil {
				log.Warn().Err(err).Str("group", g.Name).Msg("could not restore group visibility")
			}
		}
	}
	return missing, nil
}

// Save writes the state as YAML.
func (st *State) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() {
		if err := enc.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close yaml encoder")
		}
	}()
	if err := enc.Encode(st); err != nil {
		return errors.Wrap(err, "could not encode session state")
	}
	return nil
}

// Load reads a YAML state document.
func Load(r io.Reader) (*State, error) {
	var st State
	if err := yaml.NewDecoder(r).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "could not decode session state")
	}
	return &st, nil
}
