package action

import (
	"errors"
	"fmt"
)

// ErrMisuse корень всех нарушений предусловий движка отмены
var ErrMisuse = errors.New("action: misuse")

var (
	ErrNoOpenAction    = fmt.Errorf("%w: no open action", ErrMisuse)
	ErrActionOpen      = fmt.Errorf("%w: an action is still open", ErrMisuse)
	ErrNotFinished     = fmt.Errorf("%w: action is not finished", ErrMisuse)
	ErrIndexOutOfRange = fmt.Errorf("%w: history index out of range", ErrMisuse)
	ErrInvalidLimit    = fmt.Errorf("%w: history limit must be positive", ErrMisuse)
	ErrNoWorkspace     = fmt.Errorf("%w: workspace has no collaborator for this kind", ErrMisuse)
)
