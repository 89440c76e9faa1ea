package oscilloscope

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/segmentio/parquet-go"
)

// Row is one sample of a recording in parquet form
type Row struct {
	Index int64   `parquet:"index"`
	Time  float64 `parquet:"time"`
	Value float64 `parquet:"value"`
}

// parquetRowGroup bounds the rows handed to the writer per call
const parquetRowGroup = 64 * 1024

// EncodeParquet writes the recording as parquet rows.  The recording
// metadata, without samples, is attached as JSON under the "recording" key
func (r Recording) EncodeParquet(w io.Writer) error {
	meta := r
	meta.Measurement = nil
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	pw := parquet.NewGenericWriter[Row](w,
		parquet.KeyValueMetadata("recording", string(b)),
		parquet.KeyValueMetadata("crc32", strconv.FormatUint(uint64(r.Checksum()), 10)),
	)

	dt := r.DT()
	rows := make([]Row, 0, min(len(r.Measurement), parquetRowGroup))
	for i, v := range r.Measurement {
		rows = append(rows, Row{Index: int64(i), Time: float64(i) * dt, Value: v})
		if len(rows) == cap(rows) {
			if _, err := pw.Write(rows); err != nil {
				pw.Close()
				return err
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			return err
		}
	}
	return pw.Close()
}
