// Package domain contains the pure data model of the kiln engine: cells,
// outputs, kernel environments, session records and the error taxonomy.
//
// Types in this package carry no behavior beyond copying and small
// predicates. They are shared by every other package and must stay free of
// external dependencies.
package domain
