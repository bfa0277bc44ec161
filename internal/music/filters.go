package music

import (
	"sort"

	"github.com/onbeat/onbeat-bot/internal/lavalink"
)

// FilterPreset is a named filter configuration offered to users.
type FilterPreset struct {
	Key         string
	Name        string
	Description string
	build       func() lavalink.Filters
}

// Filters returns a fresh filter state for the preset.
func (p FilterPreset) Filters() lavalink.Filters {
	return p.build()
}

func eq(gains ...float64) []lavalink.EqualizerBand {
	bands := make([]lavalink.EqualizerBand, len(gains))
	for i, g := range gains {
		bands[i] = lavalink.EqualizerBand{Band: i, Gain: g}
	}
	return bands
}

var filterPresets = map[string]FilterPreset{
	"bassboost": {
		Key: "bassboost", Name: "Bass Boost", Description: "Amplifies low frequencies for extra bass",
		build: func() lavalink.Filters {
			return lavalink.Filters{Equalizer: eq(0.30, 0.30, 0.30, 0.15, 0.15, 0.15)}
		},
	},
	"nightcore": {
		Key: "nightcore", Name: "Nightcore", Description: "Increases speed and pitch",
		build: func() lavalink.Filters {
			return lavalink.Filters{Timescale: &lavalink.Timescale{Speed: 1.15, Pitch: 1.15, Rate: 1.0}}
		},
	},
	"vaporwave": {
		Key: "vaporwave", Name: "Vaporwave", Description: "Slows down speed and pitch",
		build: func() lavalink.Filters {
			return lavalink.Filters{
				Timescale: &lavalink.Timescale{Speed: 0.85, Pitch: 0.85, Rate: 1.0},
				Equalizer: eq(0.20, 0.20, 0.20),
			}
		},
	},
	"8d": {
		Key: "8d", Name: "8D Audio", Description: "Rotates the audio around the listener",
		build: func() lavalink.Filters {
			return lavalink.Filters{Rotation: &lavalink.Rotation{RotationHz: 0.2}}
		},
	},
	"karaoke": {
		Key: "karaoke", Name: "Karaoke", Description: "Reduces vocals",
		build: func() lavalink.Filters {
			return lavalink.Filters{Karaoke: &lavalink.Karaoke{Level: 1.0, MonoLevel: 1.0, FilterBand: 220.0, FilterWidth: 100.0}}
		},
	},
	"treble": {
		Key: "treble", Name: "Treble Boost", Description: "Amplifies high frequencies",
		build: func() lavalink.Filters {
			bands := make([]lavalink.EqualizerBand, 0, 5)
			for b := 10; b <= 14; b++ {
				bands = append(bands, lavalink.EqualizerBand{Band: b, Gain: 0.25})
			}
			return lavalink.Filters{Equalizer: bands}
		},
	},
	"vibrato": {
		Key: "vibrato", Name: "Vibrato", Description: "Adds a vibrating pitch effect",
		build: func() lavalink.Filters {
			return lavalink.Filters{Vibrato: &lavalink.Vibrato{Frequency: 4.0, Depth: 0.75}}
		},
	},
	"tremolo": {
		Key: "tremolo", Name: "Tremolo", Description: "Adds a trembling volume effect",
		build: func() lavalink.Filters {
			return lavalink.Filters{Tremolo: &lavalink.Tremolo{Frequency: 4.0, Depth: 0.75}}
		},
	},
	"pop": {
		Key: "pop", Name: "Pop", Description: "Tuned for pop music",
		build: func() lavalink.Filters {
			return lavalink.Filters{Equalizer: eq(-0.02, 0.08, 0.10, 0.10, 0.06, 0.0, -0.02, -0.02, 0.0, 0.02, 0.08, 0.10, 0.10, 0.08, 0.05)}
		},
	},
	"soft": {
		Key: "soft", Name: "Soft", Description: "Reduces harsh frequencies",
		build: func() lavalink.Filters {
			return lavalink.Filters{Equalizer: eq(0.0, 0.0, 0.0, 0.0, -0.05, -0.10, -0.12, -0.12, -0.10, -0.08)}
		},
	},
	"electronic": {
		Key: "electronic", Name: "Electronic", Description: "Tuned for electronic music",
		build: func() lavalink.Filters {
			return lavalink.Filters{Equalizer: eq(0.15, 0.15, 0.10, 0.05, 0.0, -0.05, -0.05, 0.0, 0.05, 0.10, 0.15, 0.20, 0.20, 0.15, 0.10)}
		},
	},
	"rock": {
		Key: "rock", Name: "Rock", Description: "Tuned for rock music",
		build: func() lavalink.Filters {
			return lavalink.Filters{Equalizer: eq(0.15, 0.10, 0.05, 0.02, -0.02, -0.05, -0.03, 0.05, 0.10, 0.12, 0.15, 0.15, 0.12, 0.10, 0.08)}
		},
	},
	"clear": {
		Key: "clear", Name: "Clear", Description: "Removes all audio filters",
		build: func() lavalink.Filters { return lavalink.Filters{} },
	},
}

// LookupFilter returns the preset registered under key.
func LookupFilter(key string) (FilterPreset, bool) {
	p, ok := filterPresets[key]
	return p, ok
}

// FilterPresets lists every preset sorted by key.
func FilterPresets() []FilterPreset {
	out := make([]FilterPreset, 0, len(filterPresets))
	for _, p := range filterPresets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
