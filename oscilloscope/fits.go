package oscilloscope

import (
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// FITSCards returns the header cards describing the recording
func (r Recording) FITSCards() []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "EXTNAME", Value: r.label()},
		{Name: "SAMPRATE", Value: r.SampleRate, Comment: "sample rate, Hz"},
		{Name: "CDELT1", Value: r.DT(), Comment: "sample spacing, s"},
		{Name: "BUNIT", Value: "V"},
		{Name: "CHANNEL", Value: r.Channel, Comment: "analog in channel"},
		{Name: "DEVICE", Value: r.Device, Comment: "device serial number"},
		{Name: "EXPTIME", Value: r.Elapsed.Seconds(), Comment: "measurement time, s"},
		{Name: "LOST", Value: int(r.Lost), Comment: "samples lost in session"},
		{Name: "CORRUPT", Value: int(r.Corrupted), Comment: "samples corrupted in session"},
		{Name: "DATACRC", Value: int(r.Checksum()), Comment: "CRC-32 of float64 LE data"},
	}
	if !r.Start.IsZero() {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: r.Start.UTC().Format(time.RFC3339Nano)})
	}
	return cards
}

// EncodeFITS streams the recording to w as a one dimensional float64 image
func (r Recording) EncodeFITS(w io.Writer) error {
	if len(r.Measurement) == 0 {
		return ErrEmpty
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{len(r.Measurement)})
	defer im.Close()
	if err := im.Header().Append(r.FITSCards()...); err != nil {
		return err
	}
	if err := im.Write(r.Measurement); err != nil {
		return err
	}
	return fits.Write(im)
}
