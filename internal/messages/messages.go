// Package messages provides the human-readable strings shown for statuses
// and failures. Components receive a Provider instead of looking strings up
// globally.
package messages

import (
	"errors"
	"fmt"

	"github.com/ralt/appstore/internal/models"
)

// Message keys
const (
	KeyProcessing             = "processing"
	KeyDownloading            = "downloading"
	KeyDownloadedSuccessfully = "downloaded_successfully"
	KeyDenied                 = "denied"
	KeySyncUnfinished         = "sync_unfinished"
	KeyUninstalling           = "uninstalling"
	KeyUpdating               = "updating"
	KeyReinstalling           = "reinstalling"
	KeyInstallInProgress      = "installation_in_progress"
	KeyUninstallInProgress    = "uninstallation_in_progress"
	KeyAlreadyUpToDate        = "already_up_to_date"
	KeyUpdateCheckFailed      = "update_check_failed"
	KeyUpdateResultTitle      = "update_result_title"
	KeyStartingDownload       = "starting_download"
	KeyUninstallRequested     = "uninstall_requested"

	// Format strings taking a comma separated package list
	KeyUpdatedFormat      = "updated_format"
	KeyFailedFormat       = "failed_format"
	KeyConfirmationFormat = "confirmation_format"

	KeyErrNetwork      = "err_network"
	KeyErrTLS          = "err_tls"
	KeyErrVerification = "err_verification"
	KeyErrMalformed    = "err_malformed"
	KeyErrIO           = "err_io"
	KeyErrInstaller    = "err_installer"
	KeyErrUnknown      = "err_unknown"
)

// Provider resolves message keys to localized text
type Provider interface {
	Get(key string) string
	// Describe pairs a generic message for err's category with its detail
	Describe(err error) string
	// StatusLabel returns the label shown for an install status
	StatusLabel(s models.InstallStatus) string
}

// Catalogue is a map-backed Provider
type Catalogue struct {
	strings map[string]string
}

// NewCatalogue returns a Provider using the given strings, falling back to
// English for missing keys
func NewCatalogue(strings map[string]string) *Catalogue {
	merged := make(map[string]string, len(english))
	for k, v := range english {
		merged[k] = v
	}
	for k, v := range strings {
		merged[k] = v
	}
	return &Catalogue{strings: merged}
}

// English returns the default catalogue
func English() *Catalogue {
	return NewCatalogue(nil)
}

func (c *Catalogue) Get(key string) string {
	if s, ok := c.strings[key]; ok {
		return s
	}
	return key
}

func (c *Catalogue) Describe(err error) string {
	if err == nil {
		return ""
	}

	var key string
	switch models.TypeOf(err) {
	case models.ErrNetworkUnavailable:
		key = KeyErrNetwork
	case models.ErrTLS:
		key = KeyErrTLS
	case models.ErrVerification:
		key = KeyErrVerification
	case models.ErrMalformedData:
		key = KeyErrMalformed
	case models.ErrIO:
		key = KeyErrIO
	case models.ErrInstaller:
		key = KeyErrInstaller
	default:
		key = KeyErrUnknown
	}

	generic := c.Get(key)
	if errors.Is(err, models.ErrUserDeclined) {
		generic = c.Get(KeyDenied)
	}
	return fmt.Sprintf("%s: %s", generic, models.Detail(err))
}

func (c *Catalogue) StatusLabel(s models.InstallStatus) string {
	switch s.State {
	case models.StateInstallable:
		return c.Get("status_installable")
	case models.StateInstalled:
		return c.Get("status_installed")
	case models.StateInstalling:
		return c.Get("status_installing")
	case models.StateUninstalling:
		return c.Get("status_uninstalling")
	case models.StateUpdatable:
		return c.Get("status_updatable")
	case models.StateUpdated:
		return c.Get("status_updated")
	case models.StateReinstallRequired:
		return c.Get("status_reinstall_required")
	case models.StateFailed:
		if s.Declined {
			return fmt.Sprintf("%s (%s)", c.Get("status_failed"), c.Get(KeyDenied))
		}
		return c.Get("status_failed")
	default:
		return s.State.String()
	}
}

var english = map[string]string{
	KeyProcessing:             "Processing",
	KeyDownloading:            "Downloading",
	KeyDownloadedSuccessfully: "Downloaded successfully",
	KeyDenied:                 "Installation denied",
	KeySyncUnfinished:         "Syncing is unfinished, please wait for the repository to refresh",
	KeyUninstalling:           "Uninstalling",
	KeyUpdating:               "Updating",
	KeyReinstalling:           "Reinstalling",
	KeyInstallInProgress:      "Installation is already in progress",
	KeyUninstallInProgress:    "Uninstallation is already in progress",
	KeyAlreadyUpToDate:        "Already up to date",
	KeyUpdateCheckFailed:      "Checking for updates failed",
	KeyUpdateResultTitle:      "Update result",
	KeyStartingDownload:       "Starting download",
	KeyUninstallRequested:     "Uninstall requested",
	KeyUpdatedFormat:          "%s has been successfully updated",
	KeyFailedFormat:           "%s has failed to update",
	KeyConfirmationFormat:     "%s: update available.",

	KeyErrNetwork:      "Unable to reach the repository, check your connection",
	KeyErrTLS:          "Secure connection to the repository failed",
	KeyErrVerification: "Repository data failed verification",
	KeyErrMalformed:    "Repository data is malformed",
	KeyErrIO:           "Failed to read or write local files",
	KeyErrInstaller:    "Installation failed",
	KeyErrUnknown:      "Something went wrong",

	"status_installable":        "Install",
	"status_installed":          "Installed",
	"status_installing":         "Installing",
	"status_uninstalling":       "Uninstalling",
	"status_updatable":          "Update available",
	"status_updated":            "Updated",
	"status_reinstall_required": "Reinstall required",
	"status_failed":             "Failed",
}
