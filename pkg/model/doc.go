// Package model defines the resolved stage graph of a dofigen description.
//
// A Dofigen value holds the runtime stage plus a map of named builder
// stages. All types are plain values: once a description has been resolved
// the linter, the generator and the lock file only read them. Use Clone to
// derive a modified copy.
//
// The builder name "runtime" is reserved for the main stage.
package model
