// Package version holds the opsdeck build version.
package version

// Version is the current opsdeck release. Overridden at build time via
// -ldflags "-X github.com/opsdeckhq/opsdeck/version.Version=...".
var Version = "0.3.0-dev"
