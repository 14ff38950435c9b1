package audio

import "encoding/binary"

const wavHeaderSize = 44

// FromPCM wraps raw little-endian 16-bit mono PCM bytes in a WAV container
// so any standard media player can decode them without extra metadata. The
// result is always headerSize+len(pcm) bytes; an empty input yields a valid
// empty-payload container.
func FromPCM(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // uncompressed PCM
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[wavHeaderSize:], pcm)
	return out
}

// Duration returns the playback length in seconds of a container produced by
// FromPCM, zero for anything too short to carry a header.
func Duration(container []byte) float64 {
	if len(container) < wavHeaderSize {
		return 0
	}
	sampleRate := binary.LittleEndian.Uint32(container[24:28])
	if sampleRate == 0 {
		return 0
	}
	dataSize := binary.LittleEndian.Uint32(container[40:44])
	return float64(dataSize/2) / float64(sampleRate)
}
