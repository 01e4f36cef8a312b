// Package builder implements the list panels for pins and stories: search,
// per-item menus, removal confirmation and editing, as an explicit state value
// driven by a pure transition function.
package builder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTransitionNotAllowed indicates an event that the current mode does not accept.
var ErrTransitionNotAllowed = errors.New("builder: transition not allowed")

// Mode is the workflow mode of a builder.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSearching
	ModeRemoving
	ModeEditing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSearching:
		return "searching"
	case ModeRemoving:
		return "removing"
	case ModeEditing:
		return "editing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TargetKind distinguishes what a removal or edit applies to.
type TargetKind int

const (
	TargetNone TargetKind = iota
	// TargetSingle is one item picked from the list.
	TargetSingle
	// TargetAll is every item in scope.
	TargetAll
	// TargetNew is an item that does not exist yet.
	TargetNew
	// TargetExisting is an item being edited in place.
	TargetExisting
)

// Target captures the item a dialog was opened for. The item is a snapshot
// taken when the dialog opened and is not revalidated against later snapshots.
type Target[T any] struct {
	Kind  TargetKind
	Index int
	Item  T
}

// Draft holds the editable fields of an item.
type Draft struct {
	Name  string
	Color string
}

// Searchable is implemented by list items.
type Searchable interface {
	SearchKeys() []string
	DisplayName() string
}

// State is the complete workflow state of one builder.
type State[T any] struct {
	Mode   Mode
	Filter string
	// MenuIndex is the visible index of the open per-item menu, or -1.
	MenuIndex int
	// Target is set while removing or editing.
	Target Target[T]
	Draft  Draft
	// PendingRemoval keeps the target of a confirmed single removal until the
	// store reports success. A failed delete leaves it in place.
	PendingRemoval *Target[T]
}

// NewState returns the idle state.
func NewState[T any]() State[T] {
	return State[T]{Mode: ModeIdle, MenuIndex: -1}
}

// EventKind enumerates builder events.
type EventKind int

const (
	EventSearch EventKind = iota
	EventOpenMenu
	EventCloseMenu
	EventRequestRemove
	EventRequestRemoveAll
	EventConfirmRemove
	EventCancelRemove
	EventDeleteSettled
	EventBeginCreate
	EventBeginEdit
	EventUpdateDraft
	EventSave
	EventCancelEdit
)

var eventNames = map[EventKind]string{
	EventSearch:           "search",
	EventOpenMenu:         "open_menu",
	EventCloseMenu:        "close_menu",
	EventRequestRemove:    "request_remove",
	EventRequestRemoveAll: "request_remove_all",
	EventConfirmRemove:    "confirm_remove",
	EventCancelRemove:     "cancel_remove",
	EventDeleteSettled:    "delete_settled",
	EventBeginCreate:      "begin_create",
	EventBeginEdit:        "begin_edit",
	EventUpdateDraft:      "update_draft",
	EventSave:             "save",
	EventCancelEdit:       "cancel_edit",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an input to Transition. Only the fields relevant to Kind are read.
type Event[T any] struct {
	Kind      EventKind
	Text      string
	Index     int
	Item      T
	Draft     Draft
	Succeeded bool
}

// EffectKind enumerates the store work a transition asks the controller to do.
type EffectKind int

const (
	EffectDeleteOne EffectKind = iota
	EffectRemoveAll
	EffectSaveNew
	EffectSaveExisting
)

// Effect is store work produced by a transition.
type Effect[T any] struct {
	Kind   EffectKind
	Target Target[T]
	Draft  Draft
}

// TransitionError reports an event rejected in the given mode.
type TransitionError struct {
	From  Mode
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("builder: %s not allowed while %s", e.Event, e.From)
}

// Is matches ErrTransitionNotAllowed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionNotAllowed
}

// Transition computes the next state for event. A rejected event returns the
// unchanged state and a *TransitionError.
func Transition[T any](state State[T], event Event[T]) (State[T], []Effect[T], error) {
	reject := func() (State[T], []Effect[T], error) {
		return state, nil, &TransitionError{From: state.Mode, Event: event.Kind}
	}
	browsing := state.Mode == ModeIdle || state.Mode == ModeSearching
	next := state

	switch event.Kind {
	case EventSearch:
		if !browsing {
			return reject()
		}
		next.Filter = event.Text
		next.Mode = restingMode(event.Text)
		return next, nil, nil

	case EventOpenMenu:
		if !browsing {
			return reject()
		}
		next.MenuIndex = event.Index
		return next, nil, nil

	case EventCloseMenu:
		next.MenuIndex = -1
		return next, nil, nil

	case EventRequestRemove:
		if !browsing {
			return reject()
		}
		next.Mode = ModeRemoving
		next.MenuIndex = -1
		next.Target = Target[T]{Kind: TargetSingle, Index: event.Index, Item: event.Item}
		return next, nil, nil

	case EventRequestRemoveAll:
		if state.Mode != ModeIdle {
			return reject()
		}
		next.Mode = ModeRemoving
		next.MenuIndex = -1
		next.Target = Target[T]{Kind: TargetAll}
		return next, nil, nil

	case EventConfirmRemove:
		if state.Mode != ModeRemoving {
			return reject()
		}
		target := state.Target
		next.Mode = restingMode(state.Filter)
		next.Target = Target[T]{}
		if target.Kind == TargetSingle {
			pending := target
			next.PendingRemoval = &pending
			return next, []Effect[T]{{Kind: EffectDeleteOne, Target: target}}, nil
		}
		return next, []Effect[T]{{Kind: EffectRemoveAll, Target: target}}, nil

	case EventCancelRemove:
		if state.Mode != ModeRemoving {
			return reject()
		}
		next.Mode = restingMode(state.Filter)
		next.Target = Target[T]{}
		next.PendingRemoval = nil
		return next, nil, nil

	case EventDeleteSettled:
		if event.Succeeded {
			next.PendingRemoval = nil
		}
		return next, nil, nil

	case EventBeginCreate:
		if state.Mode != ModeIdle {
			return reject()
		}
		next.Mode = ModeEditing
		next.MenuIndex = -1
		next.Target = Target[T]{Kind: TargetNew}
		next.Draft = event.Draft
		return next, nil, nil

	case EventBeginEdit:
		if !browsing {
			return reject()
		}
		next.Mode = ModeEditing
		next.MenuIndex = -1
		next.Target = Target[T]{Kind: TargetExisting, Index: event.Index, Item: event.Item}
		next.Draft = event.Draft
		return next, nil, nil

	case EventUpdateDraft:
		if state.Mode != ModeEditing {
			return reject()
		}
		next.Draft = event.Draft
		return next, nil, nil

	case EventSave:
		if state.Mode != ModeEditing {
			return reject()
		}
		kind := EffectSaveExisting
		if state.Target.Kind == TargetNew {
			kind = EffectSaveNew
		}
		effect := Effect[T]{Kind: kind, Target: state.Target, Draft: state.Draft}
		next.Mode = restingMode(state.Filter)
		next.Target = Target[T]{}
		next.Draft = Draft{}
		return next, []Effect[T]{effect}, nil

	case EventCancelEdit:
		if state.Mode != ModeEditing {
			return reject()
		}
		next.Mode = restingMode(state.Filter)
		next.Target = Target[T]{}
		next.Draft = Draft{}
		return next, nil, nil
	}
	return reject()
}

// restingMode is the browsing mode for the given filter text.
func restingMode(filter string) Mode {
	if filter == "" {
		return ModeIdle
	}
	return ModeSearching
}

// Filter returns the items with a search key containing text. Matching is
// case-sensitive and unanchored; empty text returns every item.
func Filter[T Searchable](items []T, text string) []T {
	if text == "" {
		return append([]T(nil), items...)
	}
	result := make([]T, 0, len(items))
	for _, item := range items {
		for _, key := range item.SearchKeys() {
			if strings.Contains(key, text) {
				result = append(result, item)
				break
			}
		}
	}
	return result
}
