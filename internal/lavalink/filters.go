package lavalink

type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

type Tremolo struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

type Rotation struct {
	RotationHz float64 `json:"rotationHz"`
}

type LowPass struct {
	Smoothing float64 `json:"smoothing"`
}

// Filters is the full filter state of a player. Sending an empty Filters clears all filters.
type Filters struct {
	Volume    *float64        `json:"volume,omitempty"`
	Equalizer []EqualizerBand `json:"equalizer,omitempty"`
	Karaoke   *Karaoke        `json:"karaoke,omitempty"`
	Timescale *Timescale      `json:"timescale,omitempty"`
	Tremolo   *Tremolo        `json:"tremolo,omitempty"`
	Vibrato   *Vibrato        `json:"vibrato,omitempty"`
	Rotation  *Rotation       `json:"rotation,omitempty"`
	LowPass   *LowPass        `json:"lowPass,omitempty"`
}
