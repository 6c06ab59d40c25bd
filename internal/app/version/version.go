package version

// Default values are overridden at build time via -ldflags.
// Keep these lower-case so ldflags can set them without exporting internals.
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info describes the running gateway build.
type Info struct {
	BuildVersion string `json:"build_version"`
	BuiltAt      string `json:"built_at"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}
