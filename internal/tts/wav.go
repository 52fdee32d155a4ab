package tts

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// ConcatWAV joins canonical PCM WAV files into one. The first segment's
// format header is kept; subsequent segments contribute only their data
// chunks. All segments must share the same format.
func ConcatWAV(segments [][]byte) ([]byte, error) {
	var valid [][]byte
	for _, seg := range segments {
		if len(seg) > wavHeaderSize {
			valid = append(valid, seg)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no audio segments to concatenate")
	}
	if len(valid) == 1 {
		return valid[0], nil
	}

	for i, seg := range valid {
		if string(seg[0:4]) != "RIFF" || string(seg[8:12]) != "WAVE" {
			return nil, fmt.Errorf("segment %d is not a WAV file", i)
		}
	}

	total := len(valid[0])
	for _, seg := range valid[1:] {
		total += len(seg) - wavHeaderSize
	}

	out := make([]byte, 0, total)
	out = append(out, valid[0]...)
	for _, seg := range valid[1:] {
		out = append(out, seg[wavHeaderSize:]...)
	}

	// RIFF chunk size and data chunk size cover the combined payload.
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(out)-wavHeaderSize))
	return out, nil
}
