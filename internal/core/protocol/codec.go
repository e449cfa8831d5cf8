package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
)

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound shapes use pointers so that absent fields can be told apart from
// zero values.
type (
	rawState struct {
		Lanes       map[string][]string   `json:"lanes"`
		Items       map[string]board.Item `json:"items"`
		LastUpdated *int64                `json:"lastUpdated"`
	}

	rawPatch struct {
		ID    *string          `json:"id"`
		Patch *board.ItemPatch `json:"patch"`
		MTime *int64           `json:"mtime"`
	}

	rawMove struct {
		ID    *string `json:"id"`
		From  *string `json:"from"`
		To    *string `json:"to"`
		Index *int    `json:"index"`
		MTime *int64  `json:"mtime"`
	}
)

// Decode parses one frame. Errors wrap ErrMalformed or ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypePull:
		return Pull{}, nil
	case TypeUpdate, TypeState:
		st, err := decodeState(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Type == TypeUpdate {
			return Update{State: st}, nil
		}
		return StateReply{State: st}, nil
	case TypePatch, TypePatchApply:
		p, err := decodePatch(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Type == TypePatch {
			return Patch{PatchPayload: p}, nil
		}
		return PatchApply{PatchPayload: p}, nil
	case TypeMove, TypeMoveApply:
		m, err := decodeMove(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Type == TypeMove {
			return Move{MovePayload: m}, nil
		}
		return MoveApply{MovePayload: m}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeState(data json.RawMessage) (board.State, error) {
	var raw rawState
	if err := unmarshalData(data, &raw); err != nil {
		return board.State{}, err
	}
	if raw.LastUpdated == nil {
		return board.State{}, fmt.Errorf("%w: state without lastUpdated", ErrMalformed)
	}
	return board.State{
		Lanes:       raw.Lanes,
		Items:       raw.Items,
		LastUpdated: *raw.LastUpdated,
	}, nil
}

func decodePatch(data json.RawMessage) (PatchPayload, error) {
	var raw rawPatch
	if err := unmarshalData(data, &raw); err != nil {
		return PatchPayload{}, err
	}
	if raw.ID == nil || *raw.ID == "" {
		return PatchPayload{}, fmt.Errorf("%w: patch without id", ErrMalformed)
	}
	if raw.Patch == nil {
		return PatchPayload{}, fmt.Errorf("%w: patch without fields", ErrMalformed)
	}
	return PatchPayload{ID: *raw.ID, Patch: *raw.Patch, MTime: raw.MTime}, nil
}

func decodeMove(data json.RawMessage) (MovePayload, error) {
	var raw rawMove
	if err := unmarshalData(data, &raw); err != nil {
		return MovePayload{}, err
	}
	switch {
	case raw.ID == nil || *raw.ID == "":
		return MovePayload{}, fmt.Errorf("%w: move without id", ErrMalformed)
	case raw.From == nil || *raw.From == "":
		return MovePayload{}, fmt.Errorf("%w: move without from", ErrMalformed)
	case raw.To == nil || *raw.To == "":
		return MovePayload{}, fmt.Errorf("%w: move without to", ErrMalformed)
	}
	return MovePayload{
		ID:    *raw.ID,
		From:  *raw.From,
		To:    *raw.To,
		Index: raw.Index,
		MTime: raw.MTime,
	}, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode renders msg as a wire frame.
func Encode(msg Message) ([]byte, error) {
	var data any
	switch m := msg.(type) {
	case Pull:
	case Update:
		data = m.State
	case StateReply:
		data = m.State
	case Patch:
		data = m.PatchPayload
	case PatchApply:
		data = m.PatchPayload
	case Move:
		data = m.MovePayload
	case MoveApply:
		data = m.MovePayload
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	env := envelope{Type: msg.Type()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
