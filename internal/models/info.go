package models

// PackageInfo is the aggregate record kept per package id. Values are
// replaced, never mutated: every With* method returns a modified copy.
type PackageInfo struct {
	ID       string
	Selected PackageVariant
	Variants []PackageVariant
	Session  SessionInfo
	Install  InstallStatus
	Download *DownloadStatus
	Task     TaskInfo

	// Stale is set when the latest catalog no longer lists the package
	Stale bool
}

// NewPackageInfo creates the first record for a package
func NewPackageInfo(selected PackageVariant, variants []PackageVariant, status InstallStatus) PackageInfo {
	return PackageInfo{
		ID:       selected.PackageID,
		Selected: selected,
		Variants: append([]PackageVariant(nil), variants...),
		Install:  status,
		Task:     IdleTask,
	}
}

func (p PackageInfo) WithInstallStatus(s InstallStatus) PackageInfo {
	p.Install = s
	return p
}

func (p PackageInfo) WithDownloadStatus(s *DownloadStatus) PackageInfo {
	if s != nil {
		c := *s
		s = &c
	}
	p.Download = s
	return p
}

func (p PackageInfo) WithSession(s SessionInfo) PackageInfo {
	p.Session = s
	return p
}

func (p PackageInfo) WithTask(t TaskInfo) PackageInfo {
	p.Task = t
	return p
}

// WithVariants replaces the selected variant and the variant list
func (p PackageInfo) WithVariants(selected PackageVariant, variants []PackageVariant) PackageInfo {
	p.Selected = selected
	p.Variants = append([]PackageVariant(nil), variants...)
	p.Stale = false
	return p
}

func (p PackageInfo) WithStale(stale bool) PackageInfo {
	p.Stale = stale
	return p
}
