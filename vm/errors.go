package vm

import "errors"

var (
	ErrMethodNotFound          = errors.New("vm: method not found for call target")
	ErrNoBody                  = errors.New("vm: method has no body")
	ErrFieldAddressUnexecutable = errors.New("vm: field-address opcodes have no runtime representation")
)
