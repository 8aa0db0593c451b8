package version

// Version is the current version of the StudyHive CLI.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/studyhive/studyhive-cli/internal/version.Version=v1.0.0'"
var Version = "dev"
