package event

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Profile is the subset of kind 0 metadata the cache keeps
type Profile struct {
	Name        string
	DisplayName string
	Picture     string
	Banner      string
	About       string
	Nip05       string
	Lud06       string
	Lud16       string
	Website     string
}

var errNotJSONObject = errors.New("metadata content is not a JSON object")

// ParseProfile reads profile fields from kind 0 content. Unknown fields are ignored.
func ParseProfile(content string) (Profile, error) {
	if !gjson.Valid(content) {
		return Profile{}, errNotJSONObject
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return Profile{}, errNotJSONObject
	}

	values := gjson.GetMany(content,
		"name", "display_name", "picture", "banner", "about", "nip05", "lud06", "lud16", "website")

	p := Profile{
		Name:        strings.TrimSpace(values[0].String()),
		DisplayName: strings.TrimSpace(values[1].String()),
		Picture:     values[2].String(),
		Banner:      values[3].String(),
		About:       values[4].String(),
		Nip05:       strings.TrimSpace(values[5].String()),
		Lud06:       values[6].String(),
		Lud16:       values[7].String(),
		Website:     values[8].String(),
	}

	// older clients wrote displayName
	if p.DisplayName == "" {
		p.DisplayName = strings.TrimSpace(parsed.Get("displayName").String())
	}

	return p, nil
}

// BestName returns the name a feed should show for this profile
func (p Profile) BestName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
