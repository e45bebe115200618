package sdk

import "encoding/json"

// Host is the thin interface a plugin's business logic calls instead of
// reaching into the sandbox import table directly. This package ships
// only FakeHost, an in-memory implementation that lets plugin logic be
// exercised in ordinary Go unit tests without a sandbox runtime at all; it
// does not include an implementation that invokes the host.* imports.
type Host interface {
	Call(capability string, args any) (json.RawMessage, error)
}

// StoreData calls the store_data host capability.
func StoreData(h Host, pluginID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = h.Call("store_data", map[string]any{"plugin_id": pluginID, "key": key, "value": json.RawMessage(raw)})
	return err
}

// GetData calls the get_data host capability and decodes the result into out.
func GetData(h Host, pluginID, key string, out any) error {
	data, err := h.Call("get_data", map[string]any{"plugin_id": pluginID, "key": key})
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// SendMessage calls the send_message host capability and returns the new message id.
func SendMessage(h Host, from, to string, payload []byte) (string, error) {
	data, err := h.Call("send_message", map[string]any{"from": from, "to": to, "payload": payload})
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", err
	}
	return id, nil
}

// PublishMessage calls the publish_message host capability and returns the new message id.
func PublishMessage(h Host, pluginID, topic string, payload []byte) (string, error) {
	data, err := h.Call("publish_message", map[string]any{"plugin_id": pluginID, "topic": topic, "payload": payload})
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SubscribeTopic calls the subscribe_topic host capability.
func SubscribeTopic(h Host, pluginID, topic string) error {
	_, err := h.Call("subscribe_topic", map[string]any{"plugin_id": pluginID, "topic": topic})
	return err
}

// UnsubscribeTopic calls the unsubscribe_topic host capability.
func UnsubscribeTopic(h Host, pluginID, topic string) error {
	_, err := h.Call("unsubscribe_topic", map[string]any{"plugin_id": pluginID, "topic": topic})
	return err
}

// LogMessage calls the log_message host capability.
func LogMessage(h Host, level, text string) error {
	_, err := h.Call("log_message", map[string]any{"level": level, "text": text})
	return err
}

// GetPluginAddress calls the get_plugin_address host capability.
func GetPluginAddress(h Host, pluginID string) (string, error) {
	data, err := h.Call("get_plugin_address", map[string]any{"plugin_id": pluginID})
	if err != nil {
		return "", err
	}
	var addr string
	if err := json.Unmarshal(data, &addr); err != nil {
		return "", err
	}
	return addr, nil
}
