// Package oscilloscope provides the recording type produced by a capture and
// its file encodings
package oscilloscope

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/snksoft/crc"
)

// ErrEmpty is returned by encoders that cannot represent a recording with no samples
var ErrEmpty = errors.New("recording holds no samples")

var crcTable = crc.NewTable(crc.CRC32)

// Recording is a sequence of samples from one analog in channel
type Recording struct {
	// Name is the label to use for the data
	Name string `json:"name"`

	// Device is the serial number of the device that made the recording
	Device string `json:"device"`

	// Channel is the analog in channel index
	Channel int `json:"channel"`

	// SampleRate is the acquisition frequency in Hz
	SampleRate float64 `json:"sampleRate"`

	// Start is the time of the first sample
	Start time.Time `json:"start"`

	// Elapsed is the measurement time summed over capture segments
	Elapsed time.Duration `json:"elapsed"`

	// Lost and Corrupted are the session sample accounting when the
	// recording was taken
	Lost      uint64 `json:"lost"`
	Corrupted uint64 `json:"corrupted"`

	// Measurement is the actual numeric data, in volts
	Measurement []float64 `json:"measurement"`
}

// DT returns the sample spacing in seconds, zero if the rate is unknown
func (r Recording) DT() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return 1 / r.SampleRate
}

// RelTimes returns the time of each sample relative to the first
func (r Recording) RelTimes() []float64 {
	dt := r.DT()
	out := make([]float64, len(r.Measurement))
	for i := range out {
		out[i] = float64(i) * dt
	}
	return out
}

// Checksum is the CRC-32 of the little endian IEEE-754 encoding of Measurement
func (r Recording) Checksum() uint32 {
	var buf [8]byte
	c := crcTable.InitCrc()
	for _, v := range r.Measurement {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		c = crcTable.UpdateCrc(c, buf[:])
	}
	return crcTable.CRC32(c)
}

func (r Recording) label() string {
	if r.Name == "" {
		return "voltage"
	}
	return r.Name
}

// EncodeCSV writes the recording as a two column CSV of relative time and
// value.  If the sample rate is unknown, only the value column is written
func (r Recording) EncodeCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	timed := r.SampleRate > 0
	row := []string{r.label()}
	if timed {
		row = []string{"time", r.label()}
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	dt := r.DT()
	for i, v := range r.Measurement {
		val := strconv.FormatFloat(v, 'G', -1, 64)
		if timed {
			row[0] = strconv.FormatFloat(float64(i)*dt, 'G', -1, 64)
			row[1] = val
		} else {
			row[0] = val
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
