// Package ime is the text side of the blink input method.
//
// The scanner commits raw symbols; the Engine interprets them against a
// message buffer:
//
//	Blink → scanner commit → Engine.CommitSymbol → buffer
//	                                 ↓
//	                      word prediction, store, feed
//
// Two glyphs are reserved:
//
//	┌────────┬──────────────────────────────┐
//	│ Glyph  │ Effect                       │
//	├────────┼──────────────────────────────┤
//	│ ⌫      │ delete the last character    │
//	│ ␣      │ append a single space        │
//	└────────┴──────────────────────────────┘
//
// Anything else, including whole suggestion strings, is appended verbatim.
//
// # Sessions
//
// A session brackets a period of use. It carries a random UUID, the start
// time and blink, insert and delete counters, and ends in a Transcript that
// can be written to disk with TranscriptStorage or to the SQLite store.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use. In the daemon all calls come
// from the pipeline goroutine, which copies Text and GetSessionInfo into
// each published view.
package ime
