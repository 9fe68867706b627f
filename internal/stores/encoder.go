package stores

import "github.com/fxamacker/cbor/v2"

var encMode cbor.EncMode

func init() {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}
