package util

import (
	"github.com/coldbrew-db/engine/disk"
	"github.com/vmihailenco/msgpack"
)

// ToByteSlice msgpack-encodes obj into a page-sized buffer.
func ToByteSlice[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.PAGE_SIZE)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	copy(res, data)

	return res, nil
}

// ToStruct msgpack-decodes a page's bytes back into T.
func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
