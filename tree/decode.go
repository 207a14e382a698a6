package tree

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Keyed is implemented by records whose key lives in the path rather than in the node.
type Keyed interface {
	SetKey(key string)
}

// DecodeRecord decodes a keyed object node into out, a pointer to a struct with mapstructure
// tags. Raw scalars and null are rejected, as is any field of the wrong JSON type. If out
// implements Keyed its key is stamped from the node.
func DecodeRecord(n Node, out interface{}) error {
	if n.Value == nil {
		return fmt.Errorf("%w: %q", ErrNoChild, n.Key)
	}
	if !n.IsObject() {
		return InvalidType(n.Key, n.Value)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(n.Value); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidJSONType, n.Key, err)
	}
	if k, ok := out.(Keyed); ok {
		k.SetKey(n.Key)
	}
	return nil
}

// Singleton returns the only entry of a {key: value} stub such as {uid: name}. An empty object
// yields ok=false. When more than one entry is present the smallest key wins so that every
// reader resolves the same entry.
func Singleton(n Node) (key string, value interface{}, ok bool, err error) {
	if n.Value == nil {
		return "", nil, false, nil
	}
	m, isMap := n.Value.(map[string]interface{})
	if !isMap {
		return "", nil, false, InvalidType(n.Key, n.Value)
	}
	for k, v := range m {
		if !ok || k < key {
			key, value, ok = k, v, true
		}
	}
	return key, value, ok, nil
}
