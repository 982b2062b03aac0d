package ratelimit

import "time"

// Preset names.
const (
	PresetAuth       = "auth"
	PresetAPI        = "api"
	PresetAI         = "ai"
	PresetRSVP       = "rsvp"
	PresetPublicView = "public_view"
	PresetUpload     = "upload"
)

// Presets are the named budgets used across the application. They are all
// plain Configs fed to the same Check.
var Presets = map[string]Config{
	PresetAuth:       {Limit: 5, Window: 15 * time.Minute},
	PresetAPI:        {Limit: 100, Window: time.Minute},
	PresetAI:         {Limit: 10, Window: time.Minute},
	PresetRSVP:       {Limit: 10, Window: time.Minute},
	PresetPublicView: {Limit: 60, Window: time.Minute},
	PresetUpload:     {Limit: 20, Window: time.Minute},
}

// Preset returns a copy of the named preset.
func Preset(name string) (Config, bool) {
	cfg, ok := Presets[name]
	return cfg, ok
}

// LongestWindow returns the largest window among cfgs, or fallback if cfgs
// is empty.
func LongestWindow(fallback time.Duration, cfgs ...Config) time.Duration {
	longest := time.Duration(0)
	for _, c := range cfgs {
		if c.Window > longest {
			longest = c.Window
		}
	}
	if longest == 0 {
		return fallback
	}
	return longest
}
