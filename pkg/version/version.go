package version

// Set with -ldflags "-X github.com/charlie0129/linepark/pkg/version.Version=..." at build time.
var (
	Version   = "UNKNOWN"
	GitCommit = "UNKNOWN"
)
