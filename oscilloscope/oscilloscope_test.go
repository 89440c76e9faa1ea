package oscilloscope

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/parquet-go"
)

func testRecording() Recording {
	return Recording{
		Name:        "ain0",
		Device:      "210321A1B2C3",
		Channel:     0,
		SampleRate:  4,
		Start:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Elapsed:     time.Second,
		Lost:        7,
		Measurement: []float64{0, 0.5, -1, 2.25},
	}
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := testRecording().EncodeCSV(&buf); err != nil {
		t.Fatal(err)
	}
	want := "time,ain0\n0,0\n0.25,0.5\n0.5,-1\n0.75,2.25\n"
	if got := buf.String(); got != want {
		t.Errorf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestEncodeCSVWithoutRate(t *testing.T) {
	r := Recording{Measurement: []float64{1, 2}}
	var buf bytes.Buffer
	if err := r.EncodeCSV(&buf); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "voltage\n1\n2\n" {
		t.Errorf("unexpected CSV %q", got)
	}
}

func TestChecksumDependsOnData(t *testing.T) {
	a := testRecording()
	b := testRecording()
	if a.Checksum() != b.Checksum() {
		t.Error("checksum is not deterministic")
	}
	b.Measurement[3] = 2.5
	if a.Checksum() == b.Checksum() {
		t.Error("checksum did not change with the data")
	}
}

func TestRelTimes(t *testing.T) {
	if diff := cmp.Diff([]float64{0, 0.25, 0.5, 0.75}, testRecording().RelTimes()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestEncodeFITS(t *testing.T) {
	rec := testRecording()
	var buf bytes.Buffer
	if err := rec.EncodeFITS(&buf); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		t.Fatalf("primary HDU is %T, not an image", f.HDU(0))
	}
	hdr := img.Header()
	if hdr.Bitpix() != -64 {
		t.Errorf("expected BITPIX -64 got %d", hdr.Bitpix())
	}
	if c := hdr.Get("DEVICE"); c == nil || c.Value != rec.Device {
		t.Errorf("DEVICE card missing or wrong: %+v", c)
	}
	data := make([]float64, len(rec.Measurement))
	if err := img.Read(&data); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec.Measurement, data); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestEncodeFITSEmpty(t *testing.T) {
	if err := (Recording{}).EncodeFITS(&bytes.Buffer{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty got %v", err)
	}
}

func TestEncodeParquet(t *testing.T) {
	rec := testRecording()
	var buf bytes.Buffer
	if err := rec.EncodeParquet(&buf); err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.Read[Row](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	want := []Row{{0, 0, 0}, {1, 0.25, 0.5}, {2, 0.5, -1}, {3, 0.75, 2.25}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func ExampleRecording_EncodeCSV() {
	r := Recording{Name: "ain1", SampleRate: 2, Measurement: []float64{1.5, 3}}
	r.EncodeCSV(os.Stdout)
	// Output:
	// time,ain1
	// 0,1.5
	// 0.5,3
}
