package audiosplit

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// wav is a minimal RIFF/WAVE container: just enough of the format to
// trim a clip and re-encode it with the same channel count and sample
// rate as the source. No third-party RIFF/WAV library appears anywhere
// in the retrieved dependency pack (see DESIGN.md); this is the one
// hand-rolled codec in the module.
type wav struct {
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
	data          []byte // raw PCM frames, interleaved
}

const (
	riffHeaderLen = 12 // "RIFF" + size + "WAVE"
	chunkHeaderLen = 8 // id + size
	fmtChunkLen    = 16
)

func decodeWAV(b []byte) (*wav, error) {
	if len(b) < riffHeaderLen || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}
	w := &wav{}
	off := riffHeaderLen
	haveFmt, haveData := false, false
	for off+chunkHeaderLen <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += chunkHeaderLen
		if off+size > len(b) {
			return nil, errors.New("truncated chunk")
		}
		switch id {
		case "fmt ":
			if size < fmtChunkLen {
				return nil, errors.New("short fmt chunk")
			}
			w.numChannels = binary.LittleEndian.Uint16(b[off+2 : off+4])
			w.sampleRate = binary.LittleEndian.Uint32(b[off+4 : off+8])
			w.bitsPerSample = binary.LittleEndian.Uint16(b[off+14 : off+16])
			haveFmt = true
		case "data":
			w.data = b[off : off+size]
			haveData = true
		}
		off += size
		if size%2 == 1 { // chunks are word-aligned
			off++
		}
		if haveFmt && haveData {
			break
		}
	}
	if !haveFmt || !haveData {
		return nil, errors.New("missing fmt or data chunk")
	}
	if w.numChannels == 0 || w.bitsPerSample == 0 {
		return nil, errors.New("invalid fmt chunk")
	}
	return w, nil
}

func (w *wav) frameSize() int {
	return int(w.numChannels) * int(w.bitsPerSample) / 8
}

func (w *wav) numFrames() int {
	fs := w.frameSize()
	if fs == 0 {
		return 0
	}
	return len(w.data) / fs
}

// slice returns a new wav whose data is frames [start, end) of w.
func (w *wav) slice(start, end int) (*wav, error) {
	fs := w.frameSize()
	n := w.numFrames()
	if start < 0 || end < start || end > n {
		return nil, errors.Errorf("frame range [%d,%d) out of bounds (have %d frames)", start, end, n)
	}
	out := &wav{
		numChannels:   w.numChannels,
		sampleRate:    w.sampleRate,
		bitsPerSample: w.bitsPerSample,
		data:          w.data[start*fs : end*fs],
	}
	return out, nil
}

// encode writes a canonical PCM WAV: RIFF/WAVE, fmt (PCM), data.
func (w *wav) encode() []byte {
	byteRate := w.sampleRate * uint32(w.numChannels) * uint32(w.bitsPerSample) / 8
	blockAlign := w.numChannels * w.bitsPerSample / 8
	dataLen := uint32(len(w.data))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(fmtChunkLen))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, w.numChannels)
	binary.Write(&buf, binary.LittleEndian, w.sampleRate)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, w.bitsPerSample)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(w.data)

	return buf.Bytes()
}
