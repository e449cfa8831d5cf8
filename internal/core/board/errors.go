package board

import "errors"

var (
	ErrUnknownLane       = errors.New("unknown lane")
	ErrInvalidItem       = errors.New("invalid item")
	ErrDuplicateID       = errors.New("item id already on board")
	ErrDuplicateCallsign = errors.New("callsign already on board")
	ErrIntegrity         = errors.New("board integrity violated")
)
