package audio

import "math"

// SilenceFloorDB is the level reported for digital silence or empty frames.
// It mirrors the -160 dB floor mobile metering APIs report.
const SilenceFloorDB = -160.0

// LevelDB returns the RMS level of a little-endian 16-bit PCM chunk in dBFS.
func LevelDB(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms <= 0 {
		return SilenceFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}

// RMS returns the normalised root mean square of a 16-bit PCM chunk.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(pcm)/2))
}
