package abi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wasmforge/kernel/bus"
	"github.com/wasmforge/kernel/identity"
	"github.com/wasmforge/kernel/logging"
	"github.com/wasmforge/kernel/sandbox"
	"github.com/wasmforge/kernel/storage"
)

// Surface binds the fixed host capability table to its collaborators: the
// identity manager (C1), the storage service (C2), and a bus handle (C3).
// Every exported method here is the JSON-in/JSON-out shape a sandbox's
// trampoline calls directly; Bind packages them into a sandbox.HostFunc
// table keyed by capability name.
type Surface struct {
	identity *identity.Manager
	store    *storage.Store
	handle   *bus.Handle
	logger   logging.Logger
	pool     *workerPool
	timeout  time.Duration
}

// New constructs a Surface over its collaborators. concurrency bounds how
// many blocking host calls run at once; timeout bounds each call.
func New(id *identity.Manager, store *storage.Store, handle *bus.Handle, logger logging.Logger, concurrency int, timeout time.Duration) *Surface {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Surface{
		identity: id,
		store:    store,
		handle:   handle,
		logger:   logger,
		pool:     newWorkerPool(concurrency),
		timeout:  timeout,
	}
}

func (s *Surface) ctx() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

// HostFunctions returns the capability table, name-stable per
// SPEC_FULL.md §4.4, ready to bind into a sandbox engine.
func (s *Surface) HostFunctions() map[string]sandbox.HostFunc {
	return map[string]sandbox.HostFunc{
		"store_data":          s.StoreData,
		"get_data":            s.GetData,
		"delete_data":         s.DeleteData,
		"list_keys":           s.ListKeys,
		"send_message":        s.SendMessage,
		"publish_message":     s.PublishMessage,
		"subscribe_topic":     s.SubscribeTopic,
		"unsubscribe_topic":   s.UnsubscribeTopic,
		"log_message":         s.LogMessage,
		"sign_message":        s.SignMessage,
		"verify_signature":    s.VerifySignature,
		"get_plugin_address":  s.GetPluginAddress,
		"get_config":          s.GetConfig,
		"set_config":          s.SetConfig,
		"get_timestamp":       s.GetTimestamp,
		"get_timestamp_millis": s.GetTimestampMillis,
	}
}

type kvArgs struct {
	PluginID string          `json:"plugin_id"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// StoreData implements store_data.
func (s *Surface) StoreData(pluginID, argJSON string) string {
	return s.pool.run(context.Background(), func() string {
		var a kvArgs
		if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
			return fail(err.Error())
		}
		ctx, cancel := s.ctx()
		defer cancel()
		if err := s.store.StoreValue(ctx, pluginID, a.Key, a.Value); err != nil {
			return fail(err.Error())
		}
		return okEmpty()
	})
}

// GetData implements get_data.
func (s *Surface) GetData(pluginID, argJSON string) string {
	return s.pool.run(context.Background(), func() string {
		var a kvArgs
		if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
			return fail(err.Error())
		}
		ctx, cancel := s.ctx()
		defer cancel()
		val, err := s.store.Get(ctx, pluginID, a.Key)
		if err == storage.ErrNotFound {
			return okEmpty()
		}
		if err != nil {
			return fail(err.Error())
		}
		return ok(val)
	})
}

// DeleteData implements delete_data.
func (s *Surface) DeleteData(pluginID, argJSON string) string {
	return s.pool.run(context.Background(), func() string {
		var a kvArgs
		if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
			return fail(err.Error())
		}
		ctx, cancel := s.ctx()
		defer cancel()
		existed, err := s.store.Delete(ctx, pluginID, a.Key)
		if err != nil {
			return fail(err.Error())
		}
		return ok(existed)
	})
}

// ListKeys implements list_keys.
func (s *Surface) ListKeys(pluginID, _ string) string {
	return s.pool.run(context.Background(), func() string {
		ctx, cancel := s.ctx()
		defer cancel()
		keys, err := s.store.ListKeys(ctx, pluginID)
		if err != nil {
			return fail(err.Error())
		}
		return ok(keys)
	})
}

type sendArgs struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
	MsgType string          `json:"msg_type,omitempty"`
}

// SendMessage implements send_message: a direct message via the bus.
func (s *Surface) SendMessage(pluginID, argJSON string) string {
	var a sendArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	id := uuid.NewString()
	msg := bus.Message{ID: id, From: pluginID, To: a.To, Payload: a.Payload, MsgType: a.MsgType}
	if err := s.handle.SendMessage(msg); err != nil {
		return fail(err.Error())
	}
	return ok(id)
}

type publishArgs struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	MsgType string          `json:"msg_type,omitempty"`
}

// PublishMessage implements publish_message: a topic message via the bus.
func (s *Surface) PublishMessage(pluginID, argJSON string) string {
	var a publishArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	id := uuid.NewString()
	msg := bus.Message{ID: id, From: pluginID, Topic: a.Topic, Payload: a.Payload, MsgType: a.MsgType}
	if err := s.handle.SendMessage(msg); err != nil {
		return fail(err.Error())
	}
	return ok(id)
}

type topicArgs struct {
	Topic string `json:"topic"`
}

// SubscribeTopic implements subscribe_topic.
func (s *Surface) SubscribeTopic(pluginID, argJSON string) string {
	var a topicArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	s.handle.Subscribe(pluginID, a.Topic)
	return okEmpty()
}

// UnsubscribeTopic implements unsubscribe_topic.
func (s *Surface) UnsubscribeTopic(pluginID, argJSON string) string {
	var a topicArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	s.handle.Unsubscribe(pluginID, a.Topic)
	return okEmpty()
}

type logArgs struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// LogMessage implements log_message, emitting via the host logger rather
// than the bus or storage.
func (s *Surface) LogMessage(pluginID, argJSON string) string {
	var a logArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	switch a.Level {
	case "error":
		s.logger.Error("plugin %s: %s", pluginID, a.Text)
	case "warn":
		s.logger.Warn("plugin %s: %s", pluginID, a.Text)
	case "debug", "trace":
		s.logger.Debug("plugin %s: %s", pluginID, a.Text)
	default:
		s.logger.Info("plugin %s: %s", pluginID, a.Text)
	}
	return okEmpty()
}

type signArgs struct {
	PluginID string `json:"plugin_id"`
	Text     string `json:"text"`
}

// SignMessage implements sign_message. Per §4.4's capability table,
// plugin_id is an explicit JSON argument, not the sandbox-bound caller;
// per §9's open question the ABI trusts it without authenticating it
// against the calling sandbox.
func (s *Surface) SignMessage(_, argJSON string) string {
	var a signArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	sig := s.identity.SignFor(a.PluginID, []byte(a.Text))
	return ok(hex.EncodeToString(sig))
}

type verifyArgs struct {
	PluginID  string `json:"plugin_id"`
	Text      string `json:"text"`
	Signature string `json:"signature"`
}

// VerifySignature implements verify_signature.
func (s *Surface) VerifySignature(_, argJSON string) string {
	var a verifyArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	sig, err := hex.DecodeString(a.Signature)
	if err != nil {
		return fail(err.Error())
	}
	return ok(s.identity.Verify(a.PluginID, []byte(a.Text), sig))
}

type pluginIDArgs struct {
	PluginID string `json:"plugin_id"`
}

// GetPluginAddress implements get_plugin_address.
func (s *Surface) GetPluginAddress(_, argJSON string) string {
	var a pluginIDArgs
	if err := json.Unmarshal([]byte(argJSON), &a); err != nil {
		return fail(err.Error())
	}
	return ok(s.identity.PluginAddress(a.PluginID))
}

// GetConfig implements get_config.
func (s *Surface) GetConfig(pluginID, _ string) string {
	return s.pool.run(context.Background(), func() string {
		ctx, cancel := s.ctx()
		defer cancel()
		cfg, err := s.store.GetConfig(ctx, pluginID)
		if err == storage.ErrNotFound {
			return ok(json.RawMessage(`{}`))
		}
		if err != nil {
			return fail(err.Error())
		}
		return ok(cfg)
	})
}

// SetConfig implements set_config.
func (s *Surface) SetConfig(pluginID, argJSON string) string {
	return s.pool.run(context.Background(), func() string {
		ctx, cancel := s.ctx()
		defer cancel()
		if err := s.store.SetConfig(ctx, pluginID, json.RawMessage(argJSON)); err != nil {
			return fail(err.Error())
		}
		return okEmpty()
	})
}

// GetTimestamp implements get_timestamp: seconds since epoch.
func (s *Surface) GetTimestamp(_, _ string) string {
	return ok(time.Now().UTC().Unix())
}

// GetTimestampMillis implements get_timestamp_millis.
func (s *Surface) GetTimestampMillis(_, _ string) string {
	return ok(time.Now().UTC().UnixMilli())
}
