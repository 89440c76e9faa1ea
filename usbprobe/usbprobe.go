/*Package usbprobe looks for Digilent instruments on the USB bus without the
WaveForms runtime.

It answers "is the scope plugged in and visible to this machine" when the
vendor runtime enumerates nothing, which is usually a permissions or driver
problem rather than a missing device.  Digilent ships devices under its own
vendor ID and under FTDI's, in which case only the manufacturer string tells
them apart from other FTDI bridges.
*/
package usbprobe

import (
	"fmt"
	"strings"

	"github.com/google/gousb"

	"github.com/nasa-jpl/adscope/dwf"
)

const (
	// DigilentVID is the Digilent vendor ID
	DigilentVID = 0x1443

	// FTDIVID is the FTDI vendor ID, used by the Analog Discovery family
	FTDIVID = 0x0403
)

// ftdiPIDs are the FTDI bridges Digilent builds on
var ftdiPIDs = map[uint16]bool{
	0x6010: true, // FT2232
	0x6014: true, // FT232H
}

// Found is a Digilent device seen on the bus
type Found struct {
	Bus          int    `json:"bus"`
	Address      int    `json:"address"`
	VID          uint16 `json:"vid"`
	PID          uint16 `json:"pid"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`
}

func (f Found) String() string {
	return fmt.Sprintf("bus %03d addr %03d %04x:%04x %s %s SN:%s",
		f.Bus, f.Address, f.VID, f.PID, f.Manufacturer, f.Product, f.Serial)
}

// Candidate returns true if a device with this vendor and product ID may be
// a Digilent instrument
func Candidate(vid, pid uint16) bool {
	if vid == DigilentVID {
		return true
	}
	return vid == FTDIVID && ftdiPIDs[pid]
}

// IsDigilent returns true if the manufacturer string names Digilent
func IsDigilent(manufacturer string) bool {
	return strings.Contains(strings.ToLower(manufacturer), "digilent")
}

// Scan opens every candidate device long enough to read its strings and
// returns the ones that are Digilent's
func Scan() ([]Found, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return Candidate(uint16(desc.Vendor), uint16(desc.Product))
	})
	// OpenDevices returns the devices it could open along with the first error
	if err != nil && len(devs) == 0 {
		return nil, err
	}
	var out []Found
	for _, dev := range devs {
		f := Found{
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
			VID:     uint16(dev.Desc.Vendor),
			PID:     uint16(dev.Desc.Product),
		}
		f.Manufacturer, _ = dev.Manufacturer()
		f.Product, _ = dev.Product()
		sn, _ := dev.SerialNumber()
		f.Serial = dwf.CleanSerial(sn)
		dev.Close()
		if f.VID == FTDIVID && !IsDigilent(f.Manufacturer) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
