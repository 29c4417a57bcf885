package ml

// Feature extraction for behavioral telemetry windows. Each extractor reduces
// one observation window to a FeatureVector with a deterministic field order.
// Per-sample fields are optional on the wire; a nil field is absent and is
// skipped when computing aggregates so it does not bias the mean toward zero.

// KeystrokeSample is one decoded keystroke event.
type KeystrokeSample struct {
	Key        string   `json:"key,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"` // unix millis
	DwellTime  *float64 `json:"dwell_time,omitempty"`
	FlightTime *float64 `json:"flight_time,omitempty"`
	Pressure   *float64 `json:"pressure,omitempty"`
}

// MouseSample is one decoded mouse movement or click event.
type MouseSample struct {
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	Timestamp    int64    `json:"timestamp,omitempty"`
	ClickType    string   `json:"click_type,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Acceleration *float64 `json:"acceleration,omitempty"`
}

// Canonical field orders. Models are trained and scored against these; the
// combined session schema is the keystroke fields followed by the mouse fields.
var (
	KeystrokeFeatureNames = []string{"typing_speed", "dwell_time_mean", "flight_time_mean"}
	MouseFeatureNames     = []string{"mouse_speed_mean", "mouse_accel_mean"}
	SessionFeatureNames   = []string{"typing_speed", "dwell_time_mean", "flight_time_mean", "mouse_speed_mean", "mouse_accel_mean"}
)

// ExtractKeystrokeFeatures reduces a keystroke window to
// [typing_speed, dwell_time_mean, flight_time_mean].
// An empty window yields the zero vector, never an error.
func ExtractKeystrokeFeatures(samples []KeystrokeSample) FeatureVector {
	var dwell, flight []float64
	for _, s := range samples {
		if s.DwellTime != nil {
			dwell = append(dwell, *s.DwellTime)
		}
		if s.FlightTime != nil {
			flight = append(flight, *s.FlightTime)
		}
	}
	return FeatureVector{
		Names:  KeystrokeFeatureNames,
		Values: []float64{typingSpeed(samples), mean(dwell), mean(flight)},
	}
}

// ExtractMouseFeatures reduces a mouse window to
// [mouse_speed_mean, mouse_accel_mean].
func ExtractMouseFeatures(samples []MouseSample) FeatureVector {
	var speed, accel []float64
	for _, s := range samples {
		if s.Speed != nil {
			speed = append(speed, *s.Speed)
		}
		if s.Acceleration != nil {
			accel = append(accel, *s.Acceleration)
		}
	}
	return FeatureVector{
		Names:  MouseFeatureNames,
		Values: []float64{mean(speed), mean(accel)},
	}
}

// ExtractSessionFeatures combines both modalities into the 5-field session
// schema used by per-user baselines.
func ExtractSessionFeatures(keystrokes []KeystrokeSample, mouse []MouseSample) FeatureVector {
	ks := ExtractKeystrokeFeatures(keystrokes)
	ms := ExtractMouseFeatures(mouse)
	return FeatureVector{
		Names:  SessionFeatureNames,
		Values: append(ks.Values, ms.Values...),
	}
}

// typingSpeed returns keys per minute over the window, 0 when the window
// carries fewer than two timestamped samples.
func typingSpeed(samples []KeystrokeSample) float64 {
	first, last := int64(0), int64(0)
	count := 0
	for _, s := range samples {
		if s.Timestamp == 0 {
			continue
		}
		if count == 0 || s.Timestamp < first {
			first = s.Timestamp
		}
		if s.Timestamp > last {
			last = s.Timestamp
		}
		count++
	}
	if count < 2 || last <= first {
		return 0
	}
	minutes := float64(last-first) / 60000.0
	return float64(count) / minutes
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
