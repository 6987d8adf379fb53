package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/reverie-rp/reverie/internal/state"
)

// helloTimeout bounds how long a fresh connection may wait before sending its
// hello frame.
const helloTimeout = 10 * time.Second

// client is one live websocket connection.
type client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *slog.Logger

	clientID string
	role     state.Role // empty for spectators
	admin    bool
	typing   atomic.Bool

	writeMu sync.Mutex
	closed  atomic.Bool
}

// write sends one event. Safe for concurrent use.
func (c *client) write(ctx context.Context, ev Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: marshal event: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, buf)
}

func (c *client) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// clearTyping drops the typing flag once a turn is committed, so the
// indicator does not linger while the round resolves.
func (c *client) clearTyping() {
	if c.typing.CompareAndSwap(true, false) {
		c.hub.broadcastPresence()
	}
}

// sendError reports a rejected event without closing the connection.
func (c *client) sendError(ctx context.Context, err error) {
	_ = c.write(ctx, newEvent(EventError, ErrorData{Message: err.Error()}))
}

// handshake waits for the hello frame, assigns a seat, and answers with
// welcome plus the initial state snapshot.
func (c *client) handshake(ctx context.Context, adminPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	ev, err := c.read(ctx)
	if err != nil {
		return fmt.Errorf("server: read hello: %w", err)
	}
	if ev.Type != EventHello {
		return fmt.Errorf("server: expected hello, got %q", ev.Type)
	}
	var hello HelloData
	if err := json.Unmarshal(ev.Data, &hello); err != nil {
		return fmt.Errorf("server: decode hello: %w", err)
	}

	c.clientID = hello.ClientID
	if c.clientID == "" {
		c.clientID = uuid.NewString()
	}
	c.admin = adminPassword != "" && hello.AdminPassword == adminPassword

	role, seated := c.hub.coord.AssignClient(c.clientID)
	if seated {
		c.role = role
	}

	welcome := WelcomeData{
		ClientID:  c.clientID,
		Role:      c.role,
		Admin:     c.admin,
		Spectator: !seated,
	}
	if err := c.write(ctx, newEvent(EventWelcome, welcome)); err != nil {
		return fmt.Errorf("server: send welcome: %w", err)
	}
	return c.write(ctx, newEvent(EventState, c.hub.coord.Snapshot(c.role)))
}

// read receives one frame.
func (c *client) read(ctx context.Context) (Event, error) {
	typ, buf, err := c.conn.Read(ctx)
	if err != nil {
		return Event{}, err
	}
	if typ != websocket.MessageText {
		return Event{}, errors.New("server: binary frames not supported")
	}
	var ev Event
	if err := json.Unmarshal(buf, &ev); err != nil {
		return Event{}, fmt.Errorf("server: decode frame: %w", err)
	}
	return ev, nil
}

// errForbidden rejects master events from non-master connections.
var errForbidden = errors.New("server: master access required")

// errSpectator rejects play events from spectator connections.
var errSpectator = errors.New("server: spectators are read-only")

// loop dispatches incoming events until the connection drops.
func (c *client) loop(ctx context.Context) {
	for {
		ev, err := c.read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Debug("client read ended", "role", c.role, "error", err)
			return
		}
		if err := c.dispatch(ctx, ev); err != nil {
			c.sendError(ctx, err)
		}
	}
}

func (c *client) dispatch(ctx context.Context, ev Event) error {
	coord := c.hub.coord

	switch ev.Type {
	case EventSubmitInput:
		if c.role == "" {
			return errSpectator
		}
		var in InputData
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			return fmt.Errorf("server: decode input: %w", err)
		}
		if err := coord.SubmitInput(ctx, c.role, in.Text); err != nil {
			return err
		}
		c.clearTyping()
		return nil

	case EventSkipTurn:
		if c.role == "" {
			return errSpectator
		}
		if err := coord.SkipTurn(ctx, c.role); err != nil {
			return err
		}
		c.clearTyping()
		return nil

	case EventUpdateProfile:
		if c.role == "" {
			return errSpectator
		}
		var p ProfileData
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("server: decode profile: %w", err)
		}
		return coord.UpdateProfile(c.role, p.Name, p.Bio, p.Canon)

	case EventTyping:
		var t TypingData
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			return fmt.Errorf("server: decode typing: %w", err)
		}
		c.typing.Store(t.Active)
		c.hub.broadcastPresence()
		return nil

	case EventSaveSettings:
		if !c.admin {
			return errForbidden
		}
		var s SettingsData
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return fmt.Errorf("server: decode settings: %w", err)
		}
		return coord.SaveSettings(s.Settings)

	case EventUnlockProfile:
		if !c.admin {
			return errForbidden
		}
		var r RoleData
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return fmt.Errorf("server: decode role: %w", err)
		}
		return coord.UnlockProfile(r.Role)

	case EventStartSession:
		if !c.admin {
			return errForbidden
		}
		return coord.StartSession()

	case EventReset:
		if !c.admin {
			return errForbidden
		}
		return coord.Reset()

	case EventUpsertLore:
		if !c.admin {
			return errForbidden
		}
		var l LoreData
		if err := json.Unmarshal(ev.Data, &l); err != nil {
			return fmt.Errorf("server: decode lore: %w", err)
		}
		return coord.UpsertLore(l.Index, l.Entry)

	case EventDeleteLore:
		if !c.admin {
			return errForbidden
		}
		var i IndexData
		if err := json.Unmarshal(ev.Data, &i); err != nil {
			return fmt.Errorf("server: decode index: %w", err)
		}
		return coord.DeleteLore(i.Index)

	case EventMoveLore:
		if !c.admin {
			return errForbidden
		}
		var m MoveLoreData
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return fmt.Errorf("server: decode move: %w", err)
		}
		return coord.MoveLore(m.From, m.To)

	case EventSaveExamples:
		if !c.admin {
			return errForbidden
		}
		var e ExamplesData
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return fmt.Errorf("server: decode examples: %w", err)
		}
		return coord.SaveExamples(e.Examples)

	case EventEditHistory:
		if !c.admin {
			return errForbidden
		}
		var h HistoryEditData
		if err := json.Unmarshal(ev.Data, &h); err != nil {
			return fmt.Errorf("server: decode history edit: %w", err)
		}
		return coord.EditHistory(h.Index, h.Text)

	case EventClearBindings:
		if !c.admin {
			return errForbidden
		}
		coord.ClearBindings()
		return nil

	default:
		return fmt.Errorf("server: unknown event %q", ev.Type)
	}
}
