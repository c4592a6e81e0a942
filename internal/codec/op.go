package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// opEnvelope tags an operation body with its kind.
type opEnvelope struct {
	Kind types.OpKind   `cbor:"k"`
	Body cbor.RawMessage `cbor:"b"`
}

// EncodeOperation encodes op with its kind tag.
func (c *Codec) EncodeOperation(op types.Operation) ([]byte, error) {
	if op == nil {
		return nil, errNilOperation
	}
	body, err := c.enc.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", op.Kind(), err)
	}
	data, err := c.enc.Marshal(opEnvelope{Kind: op.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", op.Kind(), err)
	}
	return c.wrap(data, false), nil
}

// DecodeOperation decodes bytes written by EncodeOperation.
func (c *Codec) DecodeOperation(data []byte) (types.Operation, error) {
	raw, err := c.unwrap(data)
	if err != nil {
		return nil, err
	}
	var env opEnvelope
	if err := c.dec.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding operation: %w: %v", types.ErrCorruptRecord, err)
	}

	switch env.Kind {
	case types.OpSetCell:
		var op types.SetCell
		if err := c.decodeBody(env, &op); err != nil {
			return nil, err
		}
		op.Value.V = normalizeScalar(op.Value.V)
		return op, nil
	case types.OpSetCells:
		var op types.SetCells
		if err := c.decodeBody(env, &op); err != nil {
			return nil, err
		}
		for i := range op.Cells {
			op.Cells[i].Value.V = normalizeScalar(op.Cells[i].Value.V)
		}
		return op, nil
	case types.OpInsertRows:
		var op types.InsertRows
		if err := c.decodeBody(env, &op); err != nil {
			return nil, err
		}
		for i, r := range op.Rows {
			if len(r) == 0 {
				op.Rows[i] = nil
				continue
			}
			op.Rows[i] = normalizeRow(r)
		}
		return op, nil
	case types.OpDeleteRows:
		return decodeAs[types.DeleteRows](c, env)
	case types.OpInsertColumns:
		var op types.InsertColumns
		if err := c.decodeBody(env, &op); err != nil {
			return nil, err
		}
		for r, row := range op.Data {
			op.Data[r] = normalizeRow(row)
		}
		return op, nil
	case types.OpDeleteColumns:
		return decodeAs[types.DeleteColumns](c, env)
	case types.OpResizeColumn:
		return decodeAs[types.ResizeColumn](c, env)
	case types.OpReorderColumns:
		return decodeAs[types.ReorderColumns](c, env)
	}
	return nil, fmt.Errorf("decoding operation %q: %w", env.Kind, types.ErrUnknownOperation)
}

func (c *Codec) decodeBody(env opEnvelope, v any) error {
	if err := c.dec.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decoding %s body: %w: %v", env.Kind, types.ErrCorruptRecord, err)
	}
	return nil
}

func decodeAs[T types.Operation](c *Codec, env opEnvelope) (types.Operation, error) {
	var op T
	if err := c.decodeBody(env, &op); err != nil {
		return nil, err
	}
	return op, nil
}
