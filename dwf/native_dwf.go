//go:build dwf

package dwf

/*
#cgo linux LDFLAGS: -ldwf
#cgo darwin CFLAGS: -F/Library/Frameworks
#cgo darwin LDFLAGS: -F/Library/Frameworks -framework dwf
#include <stdlib.h>
#include <digilent/waveforms/dwf.h>

*/
import "C"
import (
	"sync"
	"unsafe"

	"github.com/nasa-jpl/adscope/acquisition"
)

// enumeration filters and modes from dwf.h
const (
	enumfilterUSB  = 0x0000001
	enumfilterDemo = 0x4000000
	enumfilterType = 0x8000000

	acqmodeRecord = 3

	analogOutNodeCarrier = 0
	funcSine             = 1
)

// Native is the WaveForms runtime binding.  Calls into the runtime are
// serialized
type Native struct {
	mu sync.Mutex

	// devices is the last enumeration, Open indexes into it
	devices []acquisition.DeviceDescriptor

	// channel is the analog in channel configured on each handle
	channel map[acquisition.Handle]int

	// stimulus records the analog out channel started on each handle
	stimulus map[acquisition.Handle]int

	// index is the enumeration index each handle was opened from
	index map[acquisition.Handle]int

	buf []float64
}

// NewNative returns a driver bound to the WaveForms runtime
func NewNative() (acquisition.Driver, error) {
	n := &Native{
		channel:  map[acquisition.Handle]int{},
		stimulus: map[acquisition.Handle]int{},
		index:    map[acquisition.Handle]int{},
	}
	if _, err := n.version(); err != nil {
		return nil, err
	}
	return n, nil
}

// lastError wraps the runtime's last error message
func lastError(op string) error {
	var buf [512]C.char
	C.FDwfGetLastErrorMsg(&buf[0])
	return &acquisition.DriverError{Op: op, Msg: C.GoString(&buf[0])}
}

func ok(b C.BOOL) bool {
	return b != 0
}

func (n *Native) version() (string, error) {
	var buf [32]C.char
	if !ok(C.FDwfGetVersion(&buf[0])) {
		return "", lastError("version")
	}
	return C.GoString(&buf[0]), nil
}

// Enumerate implements acquisition.Driver
func (n *Native) Enumerate() ([]acquisition.DeviceDescriptor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var count C.int
	if !ok(C.FDwfEnum(C.ENUMFILTER(enumfilterType|enumfilterUSB|enumfilterDemo), &count)) {
		return nil, lastError("enumerate")
	}
	out := make([]acquisition.DeviceDescriptor, 0, int(count))
	for i := 0; i < int(count); i++ {
		var (
			name [64]C.char
			sn   [32]C.char
		)
		if !ok(C.FDwfEnumDeviceName(C.int(i), &name[0])) {
			return nil, lastError("enumerate")
		}
		if !ok(C.FDwfEnumSN(C.int(i), &sn[0])) {
			return nil, lastError("enumerate")
		}
		serial := C.GoString(&sn[0])
		out = append(out, acquisition.DeviceDescriptor{
			Index:        i,
			Name:         C.GoString(&name[0]),
			SerialNumber: CleanSerial(serial),
			Type:         DeviceType(serial),
		})
	}
	n.devices = out
	return append([]acquisition.DeviceDescriptor(nil), out...), nil
}

// Open implements acquisition.Driver
func (n *Native) Open(index int) (acquisition.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var h C.HDWF
	if !ok(C.FDwfDeviceOpen(C.int(index), &h)) || h == 0 {
		return 0, lastError("open")
	}
	n.index[acquisition.Handle(h)] = index
	return acquisition.Handle(h), nil
}

// Close implements acquisition.Driver
func (n *Native) Close(h acquisition.Handle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, started := n.stimulus[h]; started {
		C.FDwfAnalogOutReset(C.HDWF(h), C.int(n.stimulus[h]))
		delete(n.stimulus, h)
	}
	delete(n.channel, h)
	delete(n.index, h)
	if !ok(C.FDwfDeviceClose(C.HDWF(h))) {
		return lastError("close")
	}
	return nil
}

// Configure implements acquisition.Driver.  The record length is unbounded
// and the acquisition is started before returning
func (n *Native) Configure(h acquisition.Handle, c acquisition.Config) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	hdwf := C.HDWF(h)
	ch := C.int(c.Channel)
	if c.Stimulus.Enabled {
		out := C.int(c.Stimulus.Channel)
		if !ok(C.FDwfAnalogOutNodeEnableSet(hdwf, out, analogOutNodeCarrier, 1)) ||
			!ok(C.FDwfAnalogOutNodeFunctionSet(hdwf, out, analogOutNodeCarrier, funcSine)) ||
			!ok(C.FDwfAnalogOutNodeFrequencySet(hdwf, out, analogOutNodeCarrier, C.double(c.Stimulus.Frequency))) ||
			!ok(C.FDwfAnalogOutNodeAmplitudeSet(hdwf, out, analogOutNodeCarrier, C.double(c.Stimulus.Amplitude))) ||
			!ok(C.FDwfAnalogOutConfigure(hdwf, out, 1)) {
			return lastError("stimulus")
		}
		n.stimulus[h] = c.Stimulus.Channel
	}
	var dummy C.DwfState
	C.FDwfAnalogInStatus(hdwf, 0, &dummy)
	if !ok(C.FDwfAnalogInChannelEnableSet(hdwf, ch, 1)) ||
		!ok(C.FDwfAnalogInChannelRangeSet(hdwf, ch, C.double(c.RangeOrDefault()))) ||
		!ok(C.FDwfAnalogInAcquisitionModeSet(hdwf, acqmodeRecord)) ||
		!ok(C.FDwfAnalogInFrequencySet(hdwf, C.double(c.SampleRate))) ||
		!ok(C.FDwfAnalogInRecordLengthSet(hdwf, 0)) ||
		!ok(C.FDwfAnalogInConfigure(hdwf, 0, 1)) {
		return lastError("configure")
	}
	n.channel[h] = c.Channel
	return nil
}

// Poll implements acquisition.Driver
func (n *Native) Poll(h acquisition.Handle) (acquisition.RawStatus, acquisition.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, configured := n.channel[h]
	if !configured {
		return 0, acquisition.Record{}, acquisition.ErrInvalidHandle
	}
	hdwf := C.HDWF(h)
	var (
		sts                    C.DwfState
		avail, lost, corrupted C.int
	)
	if !ok(C.FDwfAnalogInStatus(hdwf, 1, &sts)) {
		return 0, acquisition.Record{}, lastError("status")
	}
	if !ok(C.FDwfAnalogInStatusRecord(hdwf, &avail, &lost, &corrupted)) {
		return 0, acquisition.Record{}, lastError("status record")
	}
	rec := acquisition.Record{Available: int(avail), Lost: int(lost), Corrupted: int(corrupted)}
	if avail > 0 {
		if cap(n.buf) < int(avail) {
			n.buf = make([]float64, int(avail))
		}
		buf := n.buf[:int(avail)]
		if !ok(C.FDwfAnalogInStatusData(hdwf, C.int(ch), (*C.double)(unsafe.Pointer(&buf[0])), avail)) {
			return 0, acquisition.Record{}, lastError("status data")
		}
		rec.Samples = buf
	}
	return acquisition.RawStatus(sts), rec, nil
}

// Info implements acquisition.Driver
func (n *Native) Info(h acquisition.Handle) (acquisition.DeviceInfo, error) {
	ver, err := n.version()
	if err != nil {
		return acquisition.DeviceInfo{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	hdwf := C.HDWF(h)
	var channels, bufMin, bufMax, bits C.int
	if !ok(C.FDwfAnalogInChannelCount(hdwf, &channels)) ||
		!ok(C.FDwfAnalogInBufferSizeInfo(hdwf, &bufMin, &bufMax)) ||
		!ok(C.FDwfAnalogInBitsInfo(hdwf, &bits)) {
		return acquisition.DeviceInfo{}, lastError("info")
	}
	info := acquisition.DeviceInfo{
		DeviceDescriptor:   acquisition.DeviceDescriptor{Index: n.index[h], Name: "Analog Discovery", Type: TypeUSB},
		RuntimeVersion:     ver,
		AnalogInBufferSize: int(bufMax),
		ADCBits:            int(bits),
	}
	if i := n.index[h]; i < len(n.devices) {
		info.DeviceDescriptor = n.devices[i]
	}
	for i := 0; i < int(channels); i++ {
		info.AnalogInChannels = append(info.AnalogInChannels, i)
	}
	return info, nil
}
