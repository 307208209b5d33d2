// Package testmodule is the integration module used to exercise the
// engine end to end: a datatypes table covering every value kind, a
// scheduled counter table and a private keyless table, with the reducers,
// views and procedure that drive them.
//
// The declaration lives in module.cue and is embedded. Go functions are
// bound by name through Registry.
package testmodule
