// Package board holds the coordination board data model: flight cards (items),
// the closed set of lanes they sit in, and the full board state with its logical
// clock.
//
// The merge operations defined on State are shared by the server-side store and
// the client mirror so that both sides apply patches and moves identically. None
// of the types here are safe for concurrent use; callers serialize access.
package board
