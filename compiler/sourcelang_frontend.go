package compiler

import "github.com/GoCodeAlone/hotpatch/il"

// SourceCompileFunc matches sourcelang.Compile's signature, so the default
// Frontend can be built without compiler importing sourcelang directly
// (sourcelang already imports nothing from compiler; this keeps the
// dependency one-directional and lets callers swap toolchains freely).
type SourceCompileFunc func(sourceText, moduleName string) (*il.Module, error)

// SourceFrontend adapts a SourceCompileFunc to Frontend. The debug and
// release Config values are cosmetic here since sourcelang performs no
// optimization pass; a real toolchain's frontend would thread Config
// through to its own optimizer.
type SourceFrontend struct {
	Compiler SourceCompileFunc
	Config   Config
}

// NewSourceFrontend builds a Frontend around fn for the given configuration.
func NewSourceFrontend(fn SourceCompileFunc, cfg Config) *SourceFrontend {
	return &SourceFrontend{Compiler: fn, Config: cfg}
}

// Compile implements Frontend.
func (f *SourceFrontend) Compile(sourceText, moduleName string) (*il.Module, []Diagnostic, error) {
	mod, err := f.Compiler(sourceText, moduleName)
	if err != nil {
		return nil, []Diagnostic{{Message: err.Error(), Fatal: true}}, err
	}
	return mod, nil, nil
}
