package job

import (
	"encoding/json"

	"github.com/muaviaUsmani/bananas/internal/serialization"
	"google.golang.org/protobuf/proto"
)

// DefaultSerializer is the global serializer used by SetData/UnmarshalData
// when a job wants protobuf-encoded payloads. JSON remains the default
// for Data set directly via New/Add.
var DefaultSerializer = serialization.NewJSONSerializer()

// SetData serializes v into j.Data, using protobuf if v implements
// proto.Message and JSON otherwise.
func (j *Job) SetData(v interface{}) error {
	if msg, ok := v.(proto.Message); ok {
		data, err := serialization.NewProtobufSerializer().Marshal(msg)
		if err != nil {
			return err
		}
		j.Data = data
		return nil
	}
	data, err := DefaultSerializer.Marshal(v)
	if err != nil {
		return err
	}
	j.Data = data
	return nil
}

// UnmarshalData deserializes j.Data into dest, auto-detecting the
// format written by SetData.
func (j *Job) UnmarshalData(dest interface{}) error {
	return DefaultSerializer.Unmarshal(j.Data, dest)
}

// UnmarshalDataJSON is a convenience for callers who know their
// payload is plain, unframed JSON (the common case for Add called
// directly with JSON bytes, rather than through SetData).
func (j *Job) UnmarshalDataJSON(dest interface{}) error {
	return json.Unmarshal(j.Data, dest)
}
