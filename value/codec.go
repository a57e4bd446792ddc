package value

import (
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// decMode decodes CBOR maps with text-string keys into map[string]any rather
// than fxamacker/cbor's default map[any]any, so the result round-trips
// through encoding/json without custom map-key handling.
var decMode = sync.OnceValue(func() cbor.DecMode {
	opts := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	mode, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
})

// encMode keeps CBOR encoding deterministic (sorted map keys), so equal Go
// values encode to byte-equal Values and test fixtures are reproducible.
var encMode = sync.OnceValue(func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
})
