package index

import (
	"bytes"
	"encoding/gob"
)

func serializeFields(fields map[string]string) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(fields)
	return buffer.Bytes(), err
}

func deserializeFields(input []byte) (map[string]string, error) {
	output := make(map[string]string)
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(&output)
	return output, err
}

func serializeStamp(stamp Stamp) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(&stamp)
	return buffer.Bytes(), err
}

func deserializeStamp(input []byte) (Stamp, error) {
	output := Stamp{}
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(&output)
	return output, err
}
