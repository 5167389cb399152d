package configrender

import "errors"

// ErrRenderMissingConfig is returned when a workload references a config
// alias that has no entry in desiredState.configs. Its caller rejects the
// entire update and leaves the state store untouched.
var ErrRenderMissingConfig = errors.New("configrender: referenced config alias not found")

// ErrNotAScalar is returned when a `{{identifier}}` inline substitution
// resolves to an Array or Object ConfigItem instead of a String leaf.
var ErrNotAScalar = errors.New("configrender: inline substitution requires a string config item")

// ErrNotASequenceOrObject is returned when an indent-aware block
// (`{{#identifier}}`) resolves to a String leaf instead of an Array or Object.
var ErrNotASequenceOrObject = errors.New("configrender: block substitution requires an array or object config item")
