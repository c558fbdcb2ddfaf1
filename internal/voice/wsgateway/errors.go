package wsgateway

import (
	"fmt"

	"github.com/vovakirdan/presencebridge/internal/proto"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// RemoteError is an error reply from the gateway. It unwraps to the matching
// voice sentinel so callers can classify it with errors.Is.
type RemoteError struct {
	Code string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Code, e.Msg)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case proto.CodePermission:
		return voice.ErrPermission
	case proto.CodeTimeout:
		return voice.ErrTimeout
	case proto.CodeNotFound:
		return voice.ErrNotFound
	default:
		return nil
	}
}
