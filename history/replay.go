package history

// ReplayContext tells the engine how to resolve rec's patch image against
// the currently loaded runtime module: token-pair
// resolution when the runtime module identity is unchanged, key-based
// resolution exclusively otherwise.
type ReplayContext struct {
	Record          *Record
	UseTokenPairs   bool
	SkipFastPath    bool
}

// NewReplayContext builds the replay context for rec against a runtime
// module whose current UUID is runtimeModuleUUID.
func NewReplayContext(rec *Record, runtimeModuleUUID string) ReplayContext {
	return ReplayContext{
		Record:        rec,
		UseTokenPairs: rec.RuntimeModuleUUID == runtimeModuleUUID,
		SkipFastPath:  true,
	}
}
