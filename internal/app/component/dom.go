// Package component renders the HTML pages of the web front-end. Pages are
// written as templ files; run go generate after editing them.
package component

//go:generate go tool templ generate

// Element IDs.
const (
	IDStream         = "stream"
	IDGuestPassword  = "guest-password"
	IDGuestExpires   = "guest-expires"
	IDChangePassword = "change-password"
	IDResult         = "result"
)

// Form field names for the change-password form.
const (
	FieldUsername        = "username"
	FieldOldPassword     = "old_pw"
	FieldNewPassword     = "pw"
	FieldConfirmPassword = "pw_conf"
	FieldCSRF            = "_csrf"
)

// Data attribute values for the result page.
const (
	DataAttrOutcome = "data-outcome"
	OutcomePass     = "pass"
	OutcomeFail     = "fail"
)

// Route paths.
const (
	PathIndex          = "/"
	PathStream         = "/video_feed"
	PathGuest          = "/guest"
	PathChangePassword = "/change-password"
)

// NotNeeded is shown on credential pages when authentication is disabled.
const NotNeeded = "Auth not required, this page is not needed"
