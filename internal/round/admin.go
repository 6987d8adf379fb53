package round

import (
	"errors"
	"fmt"

	"github.com/reverie-rp/reverie/internal/state"
)

var (
	// ErrProfileLocked is returned when a player edits a locked profile.
	ErrProfileLocked = errors.New("round: profile locked")

	// ErrProfilesOpen is returned by StartSession while an active profile is
	// still unlocked.
	ErrProfilesOpen = errors.New("round: not all profiles locked")

	// ErrAlreadyStarted is returned by StartSession on a running session.
	ErrAlreadyStarted = errors.New("round: session already started")

	// ErrLorebookFull is returned when adding past the lorebook entry cap.
	ErrLorebookFull = errors.New("round: lorebook full")

	// ErrBadIndex is returned for lore or history indices out of range.
	ErrBadIndex = errors.New("round: index out of range")
)

// Settings carries the master-editable session fields.
type Settings struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
	Prologue     string `json:"prologue"`
	Summary      string `json:"summary"`
	ActiveModel  string `json:"active_model"`
	PlayerCount  int    `json:"player_count"`
}

// SaveSettings applies master settings. All fields are clipped to their
// limits. Shrinking the player count drops pending inputs from roles that are
// no longer active.
func (c *Coordinator) SaveSettings(s Settings) error {
	if s.PlayerCount < 1 || s.PlayerCount > state.MaxPlayers {
		return fmt.Errorf("round: player count %d out of range [1, %d]", s.PlayerCount, state.MaxPlayers)
	}
	if s.ActiveModel == "" {
		return errors.New("round: active model must not be empty")
	}

	return c.mutate(func() error {
		if c.inFlight {
			return ErrRoundInFlight
		}

		c.doc.Title = state.Clip(s.Title, state.MaxTitleChars)
		c.doc.SystemPrompt = state.Clip(s.SystemPrompt, state.MaxSystemChars)
		c.doc.Prologue = state.Clip(s.Prologue, state.MaxPrologueChars)
		c.doc.Summary = state.Clip(s.Summary, state.MaxSummaryChars)
		c.doc.ActiveModel = s.ActiveModel
		c.doc.PlayerCount = s.PlayerCount

		for role := range c.doc.Pending {
			if !c.roleActive(role) {
				delete(c.doc.Pending, role)
			}
		}

		c.persistLocked()
		return nil
	})
}

// UpdateProfile saves a player's character sheet and locks it. Saving is
// one-shot: once locked only [Coordinator.UnlockProfile] reopens the sheet,
// and repeated saves return [ErrProfileLocked] without changing anything.
func (c *Coordinator) UpdateProfile(role state.Role, name, bio, canon string) error {
	return c.mutate(func() error {
		if !c.roleActive(role) {
			return fmt.Errorf("%w: %s", ErrInactiveRole, role)
		}
		p := c.doc.Profiles[role]
		if p.Locked {
			return ErrProfileLocked
		}

		p.Name = state.Clip(name, state.MaxNameChars)
		p.Bio = state.Clip(bio, state.MaxBioChars)
		p.Canon = state.Clip(canon, state.MaxCanonChars)
		p.Locked = true

		c.persistLocked()
		c.log.Info("profile locked", "role", role, "name", p.Name)
		return nil
	})
}

// UnlockProfile reopens a locked sheet. Master-only; the transport layer
// enforces that.
func (c *Coordinator) UnlockProfile(role state.Role) error {
	return c.mutate(func() error {
		if !state.IsPlayerRole(role) {
			return fmt.Errorf("%w: %s", ErrInactiveRole, role)
		}
		c.doc.Profiles[role].Locked = false
		c.persistLocked()
		return nil
	})
}

// StartSession moves the session from setup to play. Every active profile
// must already be locked.
func (c *Coordinator) StartSession() error {
	return c.mutate(func() error {
		if c.doc.Started {
			return ErrAlreadyStarted
		}
		for _, r := range c.doc.ActiveRoles() {
			if !c.doc.Profiles[r].Locked {
				return fmt.Errorf("%w: %s", ErrProfilesOpen, r)
			}
		}

		c.doc.Started = true
		c.persistLocked()
		c.log.Info("session started", "players", c.doc.PlayerCount, "model", c.doc.ActiveModel)
		return nil
	})
}

// Reset returns the session to setup: history, summary, and pending inputs
// are cleared and profiles unlock. Settings, lorebook, examples, and client
// bindings survive so the table can re-run the same scenario.
func (c *Coordinator) Reset() error {
	return c.mutate(func() error {
		if c.inFlight {
			return ErrRoundInFlight
		}

		c.doc.History = []state.HistoryRecord{}
		c.doc.Summary = ""
		c.doc.Pending = map[state.Role]state.PendingInput{}
		c.doc.Started = false
		for _, p := range c.doc.Profiles {
			p.Locked = false
		}

		c.persistLocked()
		c.log.Info("session reset")
		return nil
	})
}

// UpsertLore replaces the entry at index, or appends when index is -1.
// Titles and content are clipped; the entry cap applies to appends only.
func (c *Coordinator) UpsertLore(index int, e state.LoreEntry) error {
	e.Title = state.Clip(e.Title, state.MaxLoreTitleChars)
	e.Content = state.Clip(e.Content, state.MaxLoreContentChars)

	return c.mutate(func() error {
		switch {
		case index == -1:
			if len(c.doc.Lorebook) >= state.MaxLoreEntries {
				return ErrLorebookFull
			}
			c.doc.Lorebook = append(c.doc.Lorebook, e)
		case index >= 0 && index < len(c.doc.Lorebook):
			c.doc.Lorebook[index] = e
		default:
			return fmt.Errorf("%w: lore %d", ErrBadIndex, index)
		}

		c.persistLocked()
		return nil
	})
}

// DeleteLore removes the entry at index, preserving the order of the rest.
func (c *Coordinator) DeleteLore(index int) error {
	return c.mutate(func() error {
		if index < 0 || index >= len(c.doc.Lorebook) {
			return fmt.Errorf("%w: lore %d", ErrBadIndex, index)
		}
		c.doc.Lorebook = append(c.doc.Lorebook[:index], c.doc.Lorebook[index+1:]...)
		c.persistLocked()
		return nil
	})
}

// MoveLore moves the entry at from to position to, shifting the entries in
// between. Lorebook order is match priority, so reordering is meaningful.
func (c *Coordinator) MoveLore(from, to int) error {
	return c.mutate(func() error {
		n := len(c.doc.Lorebook)
		if from < 0 || from >= n {
			return fmt.Errorf("%w: lore %d", ErrBadIndex, from)
		}
		if to < 0 || to >= n {
			return fmt.Errorf("%w: lore %d", ErrBadIndex, to)
		}
		if from == to {
			return nil
		}

		entry := c.doc.Lorebook[from]
		rest := append(c.doc.Lorebook[:from], c.doc.Lorebook[from+1:]...)
		c.doc.Lorebook = append(rest[:to], append([]state.LoreEntry{entry}, rest[to:]...)...)

		c.persistLocked()
		return nil
	})
}

// SaveExamples replaces all few-shot slots at once, clipping each field.
func (c *Coordinator) SaveExamples(examples [state.ExampleSlots]state.Example) error {
	for i := range examples {
		examples[i].Prompt = state.Clip(examples[i].Prompt, state.MaxExampleChars)
		examples[i].Response = state.Clip(examples[i].Response, state.MaxExampleChars)
	}

	return c.mutate(func() error {
		c.doc.Examples = examples
		c.persistLocked()
		return nil
	})
}

// EditHistory rewrites one history record's text in place. The record keeps
// its kind and position, so round/narration adjacency is preserved.
func (c *Coordinator) EditHistory(index int, text string) error {
	return c.mutate(func() error {
		if c.inFlight {
			return ErrRoundInFlight
		}
		if index < 0 || index >= len(c.doc.History) {
			return fmt.Errorf("%w: history %d", ErrBadIndex, index)
		}
		c.doc.History[index].Text = text
		c.persistLocked()
		return nil
	})
}

// AssignClient binds a persistent client ID to a seat. A known ID resumes its
// previous role; an unknown one takes the first free active seat, or becomes
// a spectator (empty role) when the table is full.
func (c *Coordinator) AssignClient(clientID string) (state.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if role, ok := c.doc.Bindings[clientID]; ok && c.roleActive(role) {
		return role, true
	}

	taken := map[state.Role]bool{}
	for _, r := range c.doc.Bindings {
		taken[r] = true
	}
	for _, r := range c.doc.ActiveRoles() {
		if !taken[r] {
			c.doc.Bindings[clientID] = r
			c.persistLocked()
			c.log.Info("client bound to seat", "role", r)
			return r, true
		}
	}
	return "", false
}

// ClearBindings forgets all client-to-seat assignments. Connected clients
// keep their roles until they reconnect.
func (c *Coordinator) ClearBindings() {
	_ = c.mutate(func() error {
		c.doc.Bindings = map[string]state.Role{}
		c.persistLocked()
		return nil
	})
}

// Export returns the shareable configuration subset of the session.
func (c *Coordinator) Export() state.ExportConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Export()
}

// ErrBadImport is returned for files that do not carry the export marker.
var ErrBadImport = errors.New("round: not a configuration export")

// Import applies a shared configuration. History, profiles, and bindings are
// untouched; only the allow-listed fields change.
func (c *Coordinator) Import(cfg state.ExportConfig) error {
	if cfg.ExportType != state.ExportMarker {
		return ErrBadImport
	}

	return c.mutate(func() error {
		if c.inFlight {
			return ErrRoundInFlight
		}
		c.doc.ApplyImport(cfg)
		c.persistLocked()
		return nil
	})
}
