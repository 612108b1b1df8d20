package renderer

import "github.com/cockroachdb/errors"

// Configuration-level failures. Any of these means the machine or driver cannot run the
// renderer at all; callers are expected to abort.
var (
	ErrNoCompatibleDevice          = errors.New("failed to find a suitable GPU")
	ErrNoSuitableMemoryType        = errors.New("failed to find any suitable memory type")
	ErrNoSupportedDepthFormat      = errors.New("failed to find a supported depth format")
	ErrUnsupportedLayoutTransition = errors.New("unsupported layout transition")
	ErrUnsupportedBlitFormat       = errors.New("image format does not support linear blitting")
)

// IsFatal reports whether err carries one of the configuration-level failures.
func IsFatal(err error) bool {
	return errors.IsAny(err,
		ErrNoCompatibleDevice,
		ErrNoSuitableMemoryType,
		ErrNoSupportedDepthFormat,
		ErrUnsupportedLayoutTransition,
		ErrUnsupportedBlitFormat,
	)
}
