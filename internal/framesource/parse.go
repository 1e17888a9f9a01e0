package framesource

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
)

// Format selects how frame lines are decoded.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var (
	// ErrSkipLine marks blank lines, comments and CSV headers.
	ErrSkipLine = errors.New("skip line")
	// ErrMalformed wraps every decoding failure.
	ErrMalformed = errors.New("malformed frame")
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frame format %q: expected json, csv or auto", s)
	}
}

// csvFields is the column order of a CSV frame line. The trailing
// calibrated column is optional.
var csvFields = []string{"t", "left_eye", "right_eye", "head_pitch", "jaw_open", "gaze_x", "gaze_y", "calibrated"}

// frameJSON is the wire shape of a JSON frame line.
type frameJSON struct {
	T          *float64 `json:"t"`
	LeftEye    float64  `json:"left_eye"`
	RightEye   float64  `json:"right_eye"`
	HeadPitch  float64  `json:"head_pitch"`
	JawOpen    float64  `json:"jaw_open"`
	GazeX      float64  `json:"gaze_x"`
	GazeY      float64  `json:"gaze_y"`
	Calibrated bool     `json:"calibrated"`
}

// ParseLine decodes one frame line. It returns ErrSkipLine for lines that
// carry no frame and an error wrapping ErrMalformed for undecodable ones.
func ParseLine(format Format, line string) (fatigue.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return fatigue.Sample{}, ErrSkipLine
	}
	if format == FormatAuto {
		format = FormatCSV
		if strings.HasPrefix(line, "{") {
			format = FormatJSON
		}
	}

	switch format {
	case FormatJSON:
		return parseJSON(line)
	case FormatCSV:
		return parseCSV(line)
	default:
		return fatigue.Sample{}, fmt.Errorf("unknown frame format %q", format)
	}
}

func parseJSON(line string) (fatigue.Sample, error) {
	var f frameJSON
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return fatigue.Sample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s := fatigue.Sample{
		LeftEye:             f.LeftEye,
		RightEye:            f.RightEye,
		HeadPitch:           f.HeadPitch,
		JawOpen:             f.JawOpen,
		GazeX:               f.GazeX,
		GazeY:               f.GazeY,
		SpatiallyCalibrated: f.Calibrated,
	}
	if f.T != nil {
		ts, err := unixSeconds(*f.T)
		if err != nil {
			return fatigue.Sample{}, err
		}
		s.Timestamp = ts
	}
	return s, nil
}

func parseCSV(line string) (fatigue.Sample, error) {
	cols := strings.Split(line, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	if strings.EqualFold(cols[0], csvFields[0]) {
		return fatigue.Sample{}, ErrSkipLine
	}
	if len(cols) != len(csvFields) && len(cols) != len(csvFields)-1 {
		return fatigue.Sample{}, fmt.Errorf("%w: expected %d or %d columns, got %d",
			ErrMalformed, len(csvFields)-1, len(csvFields), len(cols))
	}

	var vals [7]float64
	for i := range vals {
		if i == 0 && cols[0] == "" {
			continue // no timestamp; stamped by the engine
		}
		v, err := strconv.ParseFloat(cols[i], 64)
		if err != nil {
			return fatigue.Sample{}, fmt.Errorf("%w: column %s: %v", ErrMalformed, csvFields[i], err)
		}
		vals[i] = v
	}

	s := fatigue.Sample{
		LeftEye:   vals[1],
		RightEye:  vals[2],
		HeadPitch: vals[3],
		JawOpen:   vals[4],
		GazeX:     vals[5],
		GazeY:     vals[6],
	}
	if cols[0] != "" {
		ts, err := unixSeconds(vals[0])
		if err != nil {
			return fatigue.Sample{}, err
		}
		s.Timestamp = ts
	}
	if len(cols) == len(csvFields) && cols[7] != "" {
		b, err := strconv.ParseBool(cols[7])
		if err != nil {
			return fatigue.Sample{}, fmt.Errorf("%w: column calibrated: %v", ErrMalformed, err)
		}
		s.SpatiallyCalibrated = b
	}
	return s, nil
}

// unixSeconds converts fractional Unix seconds to a UTC time at
// microsecond resolution.
func unixSeconds(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %v", ErrMalformed, v)
	}
	us := int64(math.Round(v * 1e6))
	return time.UnixMicro(us).UTC(), nil
}
