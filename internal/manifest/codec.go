package manifest

import (
	"bytes"
	"encoding/gob"
)

// encodeOffsets serializes a partition->offset map using encoding/gob.
// A nil or empty map encodes to nil so stores can persist NULL columns.
func encodeOffsets(offsets map[string]int64) ([]byte, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(offsets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeOffsets is the inverse of encodeOffsets.
func decodeOffsets(data []byte) (map[string]int64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var offsets map[string]int64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&offsets); err != nil {
		return nil, err
	}
	return offsets, nil
}
