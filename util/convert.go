// Package util holds small msgpack-based helpers used by the test
// suites to build and inspect page-sized byte slices without every
// test hand-rolling its own encoding.
package util

import "github.com/vmihailenco/msgpack"

// ToByteSlice marshals obj with msgpack and pads (or, if it doesn't
// fit, leaves oversized) the result to exactly pageSize bytes, mirroring
// the fixed-size buffers a page handle hands back.
func ToByteSlice[T any](obj T, pageSize int) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}

	if len(data) >= pageSize {
		return data, nil
	}

	res := make([]byte, pageSize)
	copy(res, data)
	return res, nil
}

// ToStruct unmarshals a msgpack-encoded prefix of data into a T,
// the inverse of ToByteSlice.
func ToStruct[T any](data []byte) (T, error) {
	var res T
	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}
	return res, nil
}
