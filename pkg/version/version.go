package version

import (
	"fmt"
	"runtime"
)

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// String describes the build, including the Go toolchain it was built with.
func String() string {
	return fmt.Sprintf("deploy version %s (%s %s/%s)", Version,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
