package version

// Version is stamped at build time with
// -ldflags "-X github.com/iago/media-compressor-back/internal/version.Version=...".
var Version = "dev"
