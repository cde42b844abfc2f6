package engine

import (
	"encoding/json"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// Listener applies backend push events to the store. Application order
// matches emission order for events scoped to the same session; that
// ordering is the transport's contract, not re-established here.
// Unknown or malformed payloads are logged and dropped, never fatal.
type Listener struct {
	store  *Store
	poller *Poller
	chat   *ChatReducer
}

// NewListener wires a listener over the store, poller, and reducer.
func NewListener(store *Store, poller *Poller, chat *ChatReducer) *Listener {
	return &Listener{store: store, poller: poller, chat: chat}
}

// Apply dispatches one event. All applications are idempotent
// upserts/removes, so redelivery is harmless.
func (l *Listener) Apply(ev control.Event) {
	switch ev.Type {
	case control.EventWorktreeCreated:
		var payload control.WorktreeCreatedEvent
		if !l.decode(ev, &payload) || payload.Worktree == nil {
			return
		}
		l.poller.Confirm(payload.Worktree)

	case control.EventWorktreeArchived:
		var payload control.WorktreeArchivedEvent
		if !l.decode(ev, &payload) || payload.Archived == nil {
			return
		}
		l.store.ApplyArchive(&control.ArchiveWorktreeResult{
			Archived: payload.Archived,
			Sessions: payload.Sessions,
		})

	case control.EventWorktreeUnarchived:
		var payload control.WorktreeUnarchivedEvent
		if !l.decode(ev, &payload) {
			return
		}
		l.store.ApplyUnarchive(payload.Worktree, payload.Sessions)

	case control.EventChatChunk:
		var payload control.ChunkEvent
		if l.decode(ev, &payload) {
			l.chat.HandleChunk(payload)
		}

	case control.EventChatToolUse:
		var payload control.ToolUseEvent
		if l.decode(ev, &payload) {
			l.chat.HandleToolUse(payload)
		}

	case control.EventChatToolBlock:
		var payload control.ToolBlockEvent
		if l.decode(ev, &payload) {
			l.chat.HandleToolBlock(payload)
		}

	case control.EventChatDone:
		var payload control.DoneEvent
		if l.decode(ev, &payload) {
			l.chat.HandleDone(payload)
		}

	case control.EventChatError:
		var payload control.ErrorEvent
		if l.decode(ev, &payload) {
			l.chat.HandleError(payload)
		}

	case control.EventChatCancelled:
		var payload control.CancelledEvent
		if l.decode(ev, &payload) {
			l.chat.HandleCancelled(payload)
		}

	case control.EventSessionSettingChanged:
		var payload control.SettingChangedEvent
		if l.decode(ev, &payload) {
			l.applySettingChange(payload)
		}

	default:
		logging.Debug("dropping unknown event", "type", ev.Type)
	}
}

func (l *Listener) decode(ev control.Event, out any) bool {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		logging.Warn("dropping malformed event payload", "type", ev.Type, "error", err)
		return false
	}
	return true
}

// applySettingChange folds a broadcast setting change into the cached
// session. Last write wins: a concurrently in-flight local edit of the
// same setting is overwritten by whichever snapshot lands last.
func (l *Listener) applySettingChange(ev control.SettingChangedEvent) {
	sess := l.store.Session(ev.SessionID)
	if sess == nil {
		return
	}
	switch ev.Field {
	case "model":
		sess.Model = ev.Value
	case "execution_mode":
		sess.ExecutionMode = ev.Value
	case "thinking":
		sess.Thinking = entityThinking(ev.Value)
	default:
		logging.Debug("dropping unknown setting field", "field", ev.Field)
		return
	}
	l.store.UpsertSession(sess)
}

func entityThinking(v string) entity.ThinkingLevel {
	switch entity.ThinkingLevel(v) {
	case entity.ThinkingLow, entity.ThinkingMedium, entity.ThinkingHigh:
		return entity.ThinkingLevel(v)
	default:
		return entity.ThinkingMedium
	}
}
