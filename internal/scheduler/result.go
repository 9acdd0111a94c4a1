package scheduler

import (
	"fmt"
	"strings"

	"github.com/ralt/appstore/internal/messages"
)

// Result aggregates one background update run
type Result struct {
	RunID string

	// NotApplicable is set when the run was declined because an
	// interactive session was active
	NotApplicable bool

	// ExecutedSuccessfully is false when the refresh failed or any package
	// failed to update
	ExecutedSuccessfully bool

	Updated             []string
	Failed              []string
	RequireConfirmation []string

	// Err is the refresh failure, if any
	Err error
}

// Empty reports whether the run touched no package
func (r Result) Empty() bool {
	return len(r.Updated) == 0 && len(r.Failed) == 0 && len(r.RequireConfirmation) == 0
}

// Render returns the notification title and text for a finished run
func (r Result) Render(msgs messages.Provider) (title, body string) {
	if r.Err != nil {
		return msgs.Get(messages.KeyUpdateCheckFailed), msgs.Describe(r.Err)
	}
	if r.Empty() {
		return msgs.Get(messages.KeyAlreadyUpToDate), ""
	}

	var parts []string
	if len(r.Updated) > 0 {
		parts = append(parts, fmt.Sprintf(msgs.Get(messages.KeyUpdatedFormat), strings.Join(r.Updated, ", ")))
	}
	if len(r.Failed) > 0 {
		parts = append(parts, fmt.Sprintf(msgs.Get(messages.KeyFailedFormat), strings.Join(r.Failed, ", ")))
	}
	if len(r.RequireConfirmation) > 0 {
		parts = append(parts, fmt.Sprintf(msgs.Get(messages.KeyConfirmationFormat), strings.Join(r.RequireConfirmation, ", ")))
	}
	return msgs.Get(messages.KeyUpdateResultTitle), strings.Join(parts, ", ")
}
