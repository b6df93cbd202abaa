package audiosplit

import "github.com/pkg/errors"

func errToBeforeFrom() error {
	return errors.New("to_time precedes from_time")
}

func errUnsupportedFormat(format string) error {
	return errors.Errorf("unsupported audio_format %q (only wav)", format)
}
