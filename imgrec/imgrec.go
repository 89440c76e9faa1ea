// Package imgrec contains a recorder used to automatically save finished
// recordings to disk.
package imgrec

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/adscope/generichttp"
	"github.com/nasa-jpl/adscope/oscilloscope"
	"github.com/nasa-jpl/adscope/server"
)

// Formats maps a format name to its file extension
var Formats = map[string]string{
	"csv":     ".csv",
	"fits":    ".fits",
	"parquet": ".parquet",
}

// Encode writes rec to w in the named format
func Encode(w io.Writer, rec oscilloscope.Recording, format string) error {
	switch strings.ToLower(format) {
	case "csv":
		return rec.EncodeCSV(w)
	case "fits":
		return rec.EncodeFITS(w)
	case "parquet":
		return rec.EncodeParquet(w)
	}
	return fmt.Errorf("unknown format %q", format)
}

// Recorder records sequences with incrementing filenames in yyyy-mm-dd subfolders.
// It is safe for concurrent use
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Format is csv, fits, or parquet
	Format string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled turns writing on; when false WriteRecording does nothing
	Enabled bool

	// now is the clock, time.Now if nil
	now func() time.Time

	last string
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	y, m, d := now().Date()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

func (r *Recorder) ext() string {
	if e, ok := Formats[strings.ToLower(r.Format)]; ok {
		return e
	}
	return Formats["csv"]
}

// incr updates the filename counter; it scans the folder to do so.  If there
// is an error, the counter is not changed
func (r *Recorder) incr(dn string) {
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	ext := r.ext()
	count := 0
	for _, file := range files {
		// skip directories, other formats, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ext)
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// WriteRecording saves rec as the next file in today's folder and returns its
// path.  When the recorder is disabled nothing is written and the path is empty
func (r *Recorder) WriteRecording(rec oscilloscope.Recording) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Enabled {
		return "", nil
	}
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	r.incr(fldr)
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, r.ext()))
	fid, err := os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return "", err
	}
	err = Encode(fid, rec, r.Format)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fn)
		return "", err
	}
	if r.ext() == Formats["csv"] {
		// csv has nowhere to carry the checksum, so it goes next to the file
		sum := fmt.Sprintf("%08x  %s\n", rec.Checksum(), filepath.Base(fn))
		if err := os.WriteFile(fn+".crc32", []byte(sum), 0666); err != nil {
			return fn, err
		}
	}
	r.last = fn
	return fn, nil
}

// Last returns the path of the most recently written file
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder,
// prefix, and format to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func (h HTTPWrapper) setRoot(s string) error {
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	old := rec.Root
	rec.Root = s
	rec.updateFolder()
	if _, err := rec.mkDir(); err != nil {
		rec.Root = old
		return badRequest{err}
	}
	return nil
}

func (h HTTPWrapper) setPrefix(s string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Recorder.Prefix = s
	h.Recorder.counter = 0
	return nil
}

func (h HTTPWrapper) setFormat(s string) error {
	if _, ok := Formats[strings.ToLower(s)]; !ok {
		return badRequest{fmt.Errorf("unknown format %q", s)}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Recorder.Format = strings.ToLower(s)
	return nil
}

func (h HTTPWrapper) setEnabled(b bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Recorder.Enabled = b
	return nil
}

// get reads a field under the lock
func (h HTTPWrapper) get(f func() string) func() (string, error) {
	return func() (string, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return f(), nil
	}
}

// GetLast serves the most recently written file
func (h HTTPWrapper) GetLast(w http.ResponseWriter, r *http.Request) {
	fn := h.Last()
	if fn == "" {
		http.Error(w, "nothing has been written yet", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}

// Inject adds GET and POST routes for /autowrite/root, prefix, format, and
// enabled to the HTTPer which manipulate this wrapper's recorder, and
// GET /autowrite/last
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.setRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(h.get(func() string { return h.Root }))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.setPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(h.get(func() string { return h.Prefix }))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/format"}] = generichttp.SetString(h.setFormat)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/format"}] = generichttp.GetString(h.get(func() string { return h.Format }))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.setEnabled)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.Enabled, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/last"}] = h.GetLast
}

type badRequest struct{ error }

func (badRequest) StatusCode() int { return http.StatusBadRequest }
