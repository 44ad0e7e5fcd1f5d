package model

// OriginKind identifies where a token manager's initial state was loaded from.
type OriginKind string

const (
	OriginMemory OriginKind = "memory"
	OriginEnv    OriginKind = "env"
	OriginFile   OriginKind = "file"
)

// Origin records the source of a manager's bootstrap state. Locator carries
// source-specific detail (a file path for OriginFile); it is empty for memory
// and environment origins. Origin is pure bookkeeping used by callers to
// decide whether and where to persist regenerated tokens; it never influences
// regeneration itself.
type Origin struct {
	Kind    OriginKind
	Locator string
}
