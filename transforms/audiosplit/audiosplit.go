// Package audiosplit is the audio splitter reference worker: trims a
// WAV payload to [from_time, to_time] seconds. Grounded in
// original_source/transformers/NeMo/audio_split_consolidate/audio_splitter/server.py,
// which does the same frame-math trim via a numeric library; here it
// is done directly against the RIFF container (transforms/audiosplit/wav.go)
// since invoking an external codec such as FFmpeg is out of scope.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package audiosplit

import (
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/ais-etl-go/etlsrv"
)

type args struct {
	FromTime    float64 `json:"from_time"`
	ToTime      float64 `json:"to_time"`
	AudioFormat string  `json:"audio_format"`

	hasFrom, hasTo bool
}

// UnmarshalJSON tracks which of from_time/to_time were actually
// present, so a missing field is ARGS_MISSING rather than silently
// defaulting to zero: of {from_time, to_time, audio_format?} the first
// two are required.
func (a *args) UnmarshalJSON(b []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["from_time"]; ok {
		if err := jsoniter.Unmarshal(v, &a.FromTime); err != nil {
			return err
		}
		a.hasFrom = true
	}
	if v, ok := raw["to_time"]; ok {
		if err := jsoniter.Unmarshal(v, &a.ToTime); err != nil {
			return err
		}
		a.hasTo = true
	}
	if v, ok := raw["audio_format"]; ok {
		if err := jsoniter.Unmarshal(v, &a.AudioFormat); err != nil {
			return err
		}
	}
	return nil
}

type Transform struct{}

func New(_ []byte) (*Transform, error) { return &Transform{}, nil }

func (*Transform) ContentType() string { return "audio/wav" }

// Blocking declares this transform CPU-bound-like, the category meant
// for transforms that spawn subprocesses; the splitter itself is pure
// Go, but parsing+re-encoding a large WAV is still worth keeping off
// the cooperative event loop under Variant Async.
func (*Transform) Blocking() bool { return true }

func (*Transform) Transform(payload []byte, _ string, etlArgs string) ([]byte, error) {
	a, err := parseArgs(etlArgs)
	if err != nil {
		return nil, err
	}

	src, err := decodeWAV(payload)
	if err != nil {
		return nil, etlsrv.NewMediaInvalid(err)
	}

	startFrame := int(math.Round(a.FromTime * float64(src.sampleRate)))
	endFrame := int(math.Round(a.ToTime * float64(src.sampleRate)))
	out, err := src.slice(startFrame, endFrame)
	if err != nil {
		return nil, etlsrv.NewMediaTrimFailed(err)
	}
	return out.encode(), nil
}

func parseArgs(etlArgs string) (args, error) {
	if etlArgs == "" {
		return args{}, etlsrv.NewArgsMissing("from_time/to_time")
	}
	var a args
	if err := jsoniter.Unmarshal([]byte(etlArgs), &a); err != nil {
		return args{}, etlsrv.NewArgsInvalid(err)
	}
	if !a.hasFrom {
		return args{}, etlsrv.NewArgsMissing("from_time")
	}
	if !a.hasTo {
		return args{}, etlsrv.NewArgsMissing("to_time")
	}
	if a.ToTime < a.FromTime {
		return args{}, etlsrv.NewArgsInvalid(errToBeforeFrom())
	}
	if a.AudioFormat == "" {
		a.AudioFormat = "wav"
	}
	if !strings.EqualFold(a.AudioFormat, "wav") {
		// no codec beyond WAV is in scope.
		return args{}, etlsrv.NewMediaInvalid(errUnsupportedFormat(a.AudioFormat))
	}
	return a, nil
}
