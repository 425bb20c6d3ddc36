// Package log provides structured logging for taskqd services.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. Entries flow through a Formatter
// (JSON or text) into one or more Outputs. Fields are attached either per
// call or by deriving child loggers with With/WithComponent.
package log
