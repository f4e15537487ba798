package models

// HideLabel selects the glyph pair used to mask unrevealed votes.
type HideLabel string

const (
	HideLabelMonkey  HideLabel = "monkey"
	HideLabelChicken HideLabel = "chicken"
	HideLabelCow     HideLabel = "cow"
	HideLabelFish    HideLabel = "fish"
	HideLabelMoney   HideLabel = "money"
	HideLabelCloud   HideLabel = "cloud"
	HideLabelShrimp  HideLabel = "shrimp"
	HideLabelThink   HideLabel = "think"
)

// Glyphs is the empty/selected display pair for a hide label.
type Glyphs struct {
	Empty    string `json:"empty"`
	Selected string `json:"selected"`
}

var hideLabelGlyphs = map[HideLabel]Glyphs{
	HideLabelMonkey:  {Empty: "🙊", Selected: "🙉"},
	HideLabelChicken: {Empty: "🥚", Selected: "🐣"},
	HideLabelCow:     {Empty: "🐄", Selected: "🥛"},
	HideLabelFish:    {Empty: "🐟", Selected: "🎣"},
	HideLabelMoney:   {Empty: "💸", Selected: "💰"},
	HideLabelCloud:   {Empty: "☁️", Selected: "⛅"},
	HideLabelShrimp:  {Empty: "🦐", Selected: "🍤"},
	HideLabelThink:   {Empty: "🤔", Selected: "👌"},
}

// HideLabels lists the closed set in display order.
func HideLabels() []HideLabel {
	return []HideLabel{
		HideLabelMonkey, HideLabelChicken, HideLabelCow, HideLabelFish,
		HideLabelMoney, HideLabelCloud, HideLabelShrimp, HideLabelThink,
	}
}

// Valid reports whether h belongs to the closed set.
func (h HideLabel) Valid() bool {
	_, ok := hideLabelGlyphs[h]
	return ok
}

// Glyphs returns the display pair for h, falling back to monkey.
func (h HideLabel) Glyphs() Glyphs {
	if g, ok := hideLabelGlyphs[h]; ok {
		return g
	}
	return hideLabelGlyphs[HideLabelMonkey]
}
