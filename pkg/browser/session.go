// Package browser drives a headless Chrome session to turn a known
// auth_token into a full session cookie set. Each account gets its own
// browser process and cookie store; the site's own script validates the
// injected token and sets the remaining cookies.
package browser

// Cookie names of interest on the target site
const (
	CookieAuthToken = "auth_token"
	CookieCT0       = "ct0"
	CookieTwid      = "twid"
	CookieGuestID   = "guest_id"
)

// Session is one account's harvested cookie set. AuthToken is the jar
// value after bootstrap when present, otherwise the supplied one; ct0
// is required for a session to be considered valid, twid and guest_id
// are recorded as found.
type Session struct {
	Username  string `json:"username"`
	AuthToken string `json:"auth_token"`
	CT0       string `json:"ct0"`
	Twid      string `json:"twid"`
	GuestID   string `json:"guest_id"`
}

// sessionFromJar builds a Session from a name→value cookie map,
// reporting whether the jar contained a ct0
func sessionFromJar(username, suppliedToken string, jar map[string]string) (*Session, bool) {
	ct0 := jar[CookieCT0]
	if ct0 == "" {
		return nil, false
	}

	authToken := jar[CookieAuthToken]
	if authToken == "" {
		authToken = suppliedToken
	}

	return &Session{
		Username:  username,
		AuthToken: authToken,
		CT0:       ct0,
		Twid:      jar[CookieTwid],
		GuestID:   jar[CookieGuestID],
	}, true
}
