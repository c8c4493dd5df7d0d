package version

// Version is overridden at build time via
// -ldflags "-X multi-complete/internal/version.Version=...".
var Version = "dev"
