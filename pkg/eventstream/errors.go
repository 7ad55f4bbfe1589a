package eventstream

import "errors"

// ErrNilInteractionEvent indicates a nil event payload was provided to a publisher.
var ErrNilInteractionEvent = errors.New("nil interaction event")
