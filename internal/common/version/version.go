package version

// Version is overridden at build time with
// -ldflags "-X github.com/rizkirmdhn/dyproxy/internal/common/version.Version=..."
var Version = "dev"
