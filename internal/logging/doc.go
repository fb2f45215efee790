// Package logging is the leveled logger shared by the pipeline daemon and
// its tools. Messages go through the standard library logger with a level
// tag prefix, so output lands wherever log.SetOutput points.
//
// The level comes from the environment: DEBUG=1 (or true/yes/on) forces
// debug, otherwise LOG_LEVEL picks one of debug, info, warn, error, with
// info the default. SetLevel overrides both at runtime.
package logging
