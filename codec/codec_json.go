package codec

import "encoding/json"

// JSON encodes values as JSON.
type JSON struct{}

func (c *JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSON) Name() string { return NameJSON }
