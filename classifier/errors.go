package classifier

import "errors"

// Static errors for the classifier package.
var (
	ErrEmptySource = errors.New("classifier: source text is empty")
)
