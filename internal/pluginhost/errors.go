package pluginhost

import "errors"

var (
	ErrAbiMismatch   = errors.New("pluginhost: abi tag mismatch")
	ErrWrongPhase    = errors.New("pluginhost: operation not permitted in current lifecycle phase")
	ErrPluginFault   = errors.New("pluginhost: plugin callback panicked or returned an error")
	ErrUnknownPlugin = errors.New("pluginhost: unknown plugin")
	ErrAlreadyLoaded = errors.New("pluginhost: plugin already loaded")
	ErrMissingSymbol = errors.New("pluginhost: plugin image is missing a required ABI symbol")
)
