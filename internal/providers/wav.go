package providers

import (
	"encoding/binary"
	"math"
)

// wavDuration reads the length of a PCM RIFF/WAVE file from its fmt and data
// chunks, rounded to milliseconds.
func wavDuration(b []byte) (float64, bool) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return 0, false
	}
	var byteRate uint32
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := binary.LittleEndian.Uint32(b[pos+4 : pos+8])
		body := pos + 8
		switch id {
		case "fmt ":
			if body+12 > len(b) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			// streamed wav headers carry 0xFFFFFFFF; use what actually arrived
			n := int64(size)
			if size == math.MaxUint32 || body+int(size) > len(b) {
				n = int64(len(b) - body)
			}
			secs := float64(n) / float64(byteRate)
			return math.Round(secs*1000) / 1000, true
		}
		pos = body + int(size) + int(size%2)
	}
	return 0, false
}
