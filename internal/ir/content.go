package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the content in NFC form with surrounding whitespace
// removed. Stored guidelines and content lookups both go through Normalize,
// so visually identical text typed with different code points still matches.
func (c GuidelineContent) Normalize() GuidelineContent {
	return GuidelineContent{
		Condition: norm.NFC.String(strings.TrimSpace(c.Condition)),
		Action:    norm.NFC.String(strings.TrimSpace(c.Action)),
	}
}

// Key returns the content key used to cross-reference guidelines that are
// proposed together before they have ids. Format: "<condition>_<action>".
func (c GuidelineContent) Key() string {
	n := c.Normalize()
	return n.Condition + "_" + n.Action
}

// IsZero reports whether both condition and action are empty.
func (c GuidelineContent) IsZero() bool {
	return c.Condition == "" && c.Action == ""
}
