package core

import "sync"

type EventContext struct {
	// 64 bytes
	Data struct {
		U64 [2]uint64
		F64 [2]float64

		U32 [4]uint32

		C [2]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.data.u32[0];
	 * u32 height = data.data.u32[1];
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	// A GPU scene buffer grew and its device handle changed. Anything that
	// cached the raw handle must re-fetch it.
	/* Context usage:
	 * string buffer_name = data.data.c[0];
	 * u64 new_capacity = data.data.u64[0];
	 */
	EVENT_CODE_BUFFER_RESIZED SystemEventCode = 0x03

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 4096

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventCodeEntry struct {
	events []*registeredEvent
}

// State structure.
type eventSystemState struct {
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES]eventCodeEntry
}

/**
 * Event system internal state.
 */
var onceEvent sync.Once
var isInitialized bool = false
var eventState *eventSystemState = nil

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

func EventInitialize() bool {
	if isInitialized {
		return false
	}
	onceEvent.Do(func() {
		eventState = &eventSystemState{}
	})
	isInitialized = true
	return true
}

func EventShutdown() error {
	for i := 0; i < MAX_MESSAGE_CODES; i++ {
		if len(eventState.registered[i].events) != 0 {
			eventState.registered[i].events = nil
		}
	}
	return nil
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listener/callback combos will not be registered again and will cause this to return FALSE.
 */
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if !isInitialized {
		return false
	}
	registeredCount := len(eventState.registered[code].events)
	for i := 0; i < registeredCount; i++ {
		if eventState.registered[code].events[i].listener == listener {
			return false
		}
	}
	// If at this point, no duplicate was found. Proceed with registration.
	event := &registeredEvent{
		listener: listener,
		callback: onEvent,
	}
	eventState.registered[code].events = append(eventState.registered[code].events, event)
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns FALSE.
 */
func EventUnregister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if !isInitialized {
		return false
	}
	if len(eventState.registered[code].events) == 0 {
		return false
	}

	registeredCount := len(eventState.registered[code].events)
	for i := 0; i < registeredCount; i++ {
		e := eventState.registered[code].events[i]
		if e.listener == listener && e.callback != nil {
			eventState.registered[code].events = append(
				eventState.registered[code].events[:i],
				eventState.registered[code].events[i+1:]...)
			return true
		}
	}
	// Not found.
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * TRUE, the event is considered handled and is not passed on to any more listeners.
 */
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	if !isInitialized {
		return false
	}
	if len(eventState.registered[code].events) == 0 {
		return false
	}
	registeredCount := len(eventState.registered[code].events)
	for i := 0; i < registeredCount; i++ {
		e := eventState.registered[code].events[i]
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	// Not found.
	return false
}
