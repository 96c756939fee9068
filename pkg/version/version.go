package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// UserAgent identifies the connector on outgoing HTTP requests.
func UserAgent() string {
	return "ilp-connector/" + Build
}
