package vectormem

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Embeddings are persisted as CBOR arrays. Core Deterministic Encoding
// makes identical vectors produce identical bytes; float32 values that
// fit losslessly in float16 are shortened, and decode restores them.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("vectormem: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("vectormem: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEmbedding(v []float32) ([]byte, error) {
	return encMode.Marshal(v)
}

func decodeEmbedding(data []byte) ([]float32, error) {
	var v []float32
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}
