package dispatcher

import "errors"

var ErrNoInvoker = errors.New("dispatcher: no invoker registered for method id")
