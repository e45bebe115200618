package sdk

import "encoding/json"

// FakeHost is an in-memory Host used by plugin-logic unit tests; it has
// no sandbox runtime underneath it at all.
type FakeHost struct {
	kv    map[string]map[string]json.RawMessage
	Calls []string
}

// NewFakeHost constructs an empty FakeHost.
func NewFakeHost() *FakeHost {
	return &FakeHost{kv: make(map[string]map[string]json.RawMessage)}
}

// Call implements Host by interpreting the small subset of capabilities
// plugin-logic tests actually exercise.
func (f *FakeHost) Call(capability string, args any) (json.RawMessage, error) {
	f.Calls = append(f.Calls, capability)

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	switch capability {
	case "store_data":
		var a struct {
			PluginID string          `json:"plugin_id"`
			Key      string          `json:"key"`
			Value    json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if f.kv[a.PluginID] == nil {
			f.kv[a.PluginID] = make(map[string]json.RawMessage)
		}
		f.kv[a.PluginID][a.Key] = a.Value
		return nil, nil

	case "get_data":
		var a struct {
			PluginID string `json:"plugin_id"`
			Key      string `json:"key"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return f.kv[a.PluginID][a.Key], nil

	case "send_message", "publish_message":
		return json.Marshal("fake-message-id")

	case "get_plugin_address":
		var a struct {
			PluginID string `json:"plugin_id"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return json.Marshal("addr-" + a.PluginID)

	default:
		return nil, nil
	}
}
