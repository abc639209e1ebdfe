// Package cborutil encodes and decodes single cbor-gen values.
package cborutil

import (
	"bytes"

	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

func Dump(obj cbg.CBORMarshaler) ([]byte, error) {
	var buf bytes.Buffer
	if err := obj.MarshalCBOR(&buf); err != nil {
		return nil, xerrors.Errorf("marshaling %T: %w", obj, err)
	}
	return buf.Bytes(), nil
}

// Load decodes b into out. b must hold exactly one value; signed payloads
// would otherwise have more than one valid encoding.
func Load(b []byte, out cbg.CBORUnmarshaler) error {
	r := bytes.NewReader(b)
	if err := out.UnmarshalCBOR(r); err != nil {
		return xerrors.Errorf("unmarshaling %T: %w", out, err)
	}
	if r.Len() != 0 {
		return xerrors.Errorf("%d trailing bytes after %T", r.Len(), out)
	}
	return nil
}
