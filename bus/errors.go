package bus

import "errors"

// ErrBusClosed is returned by SendMessage once Shutdown has been called.
var ErrBusClosed = errors.New("bus: closed")

// ErrPluginNotFound names the routing outcome for a plugin with no
// registered mailbox, or a topic with no subscribers. No bus function
// returns it: SendMessage succeeds once the message is enqueued, and the
// router drops a message with no destination after logging it.
var ErrPluginNotFound = errors.New("bus: plugin not found")
