// Package loaders contains the default parsers and extern systems for the
// resource manager. RegisterDefaults wires all of them into a Manager.
package loaders
