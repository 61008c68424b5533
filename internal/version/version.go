// Package version holds build metadata. Release builds set it with -ldflags.
package version

import "fmt"

var (
	CLIName    = "sncast"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func Get() Info {
	return Info{Name: CLIName, Version: CLIVersion, Commit: Commit, BuildDate: BuildDate}
}

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}
