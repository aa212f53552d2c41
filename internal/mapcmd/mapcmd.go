// Package mapcmd reads the inline map tokens the assistant embeds in its
// replies. The gateway never interprets them; clients do.
package mapcmd

import (
	"regexp"
	"strings"
)

type Type string

const (
	TypeToggleLayer Type = "toggleLayer"
	TypeFocus       Type = "focus"
	TypeRoute       Type = "route"
)

// Command is one parsed token. Only the fields for its Type are set.
type Command struct {
	Type        Type   `json:"type"`
	Layer       string `json:"layer,omitempty"`
	Location    string `json:"location,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
}

var (
	layerRe = regexp.MustCompile(`\[SHOW_LAYER:([a-zA-Z]+)\]`)
	focusRe = regexp.MustCompile(`\[FOCUS:([^\]]+)\]`)
	routeRe = regexp.MustCompile(`\[ROUTE:([^\]]+)->([^\]]+)\]`)
)

// Parse returns every command in text: all layer toggles first, then focus
// targets, then routes, each group in order of appearance.
func Parse(text string) []Command {
	var cmds []Command
	if text == "" {
		return cmds
	}

	for _, m := range layerRe.FindAllStringSubmatch(text, -1) {
		cmds = append(cmds, Command{Type: TypeToggleLayer, Layer: m[1]})
	}
	for _, m := range focusRe.FindAllStringSubmatch(text, -1) {
		cmds = append(cmds, Command{Type: TypeFocus, Location: m[1]})
	}
	for _, m := range routeRe.FindAllStringSubmatch(text, -1) {
		cmds = append(cmds, Command{Type: TypeRoute, Origin: m[1], Destination: m[2]})
	}
	return cmds
}

// Strip removes recognised tokens from text, leaving the prose.
func Strip(text string) string {
	for _, re := range []*regexp.Regexp{layerRe, focusRe, routeRe} {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func (c Command) String() string {
	switch c.Type {
	case TypeToggleLayer:
		return "show layer " + c.Layer
	case TypeFocus:
		return "focus " + c.Location
	case TypeRoute:
		return "route " + c.Origin + " -> " + c.Destination
	default:
		return string(c.Type)
	}
}
