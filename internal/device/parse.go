package device

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// parsePackageList reads the output of
// `pm list packages --show-versioncode -i`, one package per line:
//
//	package:org.example versionCode:12 installer=org.grapheneos.apps
func parsePackageList(out []byte) map[string]InstalledPackage {
	packages := map[string]InstalledPackage{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "package:") {
			continue
		}

		var pkg InstalledPackage
		for i, field := range strings.Fields(line) {
			switch {
			case i == 0:
				pkg.ID = strings.TrimPrefix(field, "package:")
			case strings.HasPrefix(field, "versionCode:"):
				pkg.VersionCode, _ = strconv.ParseInt(strings.TrimPrefix(field, "versionCode:"), 10, 64)
			case strings.HasPrefix(field, "installer="):
				pkg.Installer = strings.TrimPrefix(field, "installer=")
				if pkg.Installer == "null" {
					pkg.Installer = ""
				}
			}
		}
		if pkg.ID != "" {
			packages[pkg.ID] = pkg
		}
	}
	return packages
}

// Failure codes reported when the user refuses an install prompt
var declinedMarkers = []string{
	"INSTALL_FAILED_ABORTED",
	"INSTALL_FAILED_USER_RESTRICTED",
	"User rejected",
}

// parseInstallOutput turns adb install output into a session outcome
func parseInstallOutput(out []byte, runErr error) (success, declined bool, message string) {
	text := strings.TrimSpace(string(out))
	if runErr == nil && strings.Contains(text, "Success") {
		return true, false, ""
	}

	for _, marker := range declinedMarkers {
		if strings.Contains(text, marker) {
			return false, true, lastLine(text)
		}
	}

	if text == "" && runErr != nil {
		return false, false, runErr.Error()
	}
	return false, false, lastLine(text)
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// diffPackages derives broadcasts from two successive package listings
func diffPackages(before, after map[string]InstalledPackage) []PackageEvent {
	var events []PackageEvent

	for id, pkg := range after {
		old, existed := before[id]
		switch {
		case !existed:
			events = append(events, PackageEvent{PackageID: id, Kind: EventAdded, VersionCode: pkg.VersionCode})
		case old.VersionCode != pkg.VersionCode || old.Installer != pkg.Installer:
			events = append(events, PackageEvent{PackageID: id, Kind: EventReplaced, VersionCode: pkg.VersionCode})
		}
	}

	for id := range before {
		if _, ok := after[id]; !ok {
			events = append(events,
				PackageEvent{PackageID: id, Kind: EventRemoved, VersionCode: -1},
				PackageEvent{PackageID: id, Kind: EventFullyRemoved, VersionCode: -1})
		}
	}

	sortEvents(events)
	return events
}
