package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/adscope/acquisition"
	"github.com/nasa-jpl/adscope/config"
	"github.com/nasa-jpl/adscope/dwf"
	"github.com/nasa-jpl/adscope/generichttp/scope"
	"github.com/nasa-jpl/adscope/imgrec"
	"github.com/nasa-jpl/adscope/metrics"
	"github.com/nasa-jpl/adscope/server/middleware/locker"
	"github.com/nasa-jpl/adscope/session"
)

// app is the running server
type app struct {
	ctl *session.Controller
	rec *imgrec.Recorder
	reg *prometheus.Registry
}

// newDriver returns the simulator for Mock, else the WaveForms runtime
func newDriver(c config.Config) (acquisition.Driver, error) {
	if c.Mock {
		return dwf.NewSim(dwf.SimOptions{
			Devices:   2,
			Frequency: c.Stimulus.Frequency,
			Amplitude: c.Stimulus.Amplitude,
		}), nil
	}
	return dwf.NewNative()
}

func setup(c config.Config, logger *log.Logger) (app, error) {
	var a app
	opts, err := c.SessionOptions()
	if err != nil {
		return a, err
	}
	opts.Driver, err = newDriver(c)
	if err != nil {
		return a, err
	}
	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs, err := metrics.NewPromObs(a.reg)
	if err != nil {
		return a, err
	}
	a.rec = &imgrec.Recorder{
		Root:    c.AutoWrite.Root,
		Prefix:  c.AutoWrite.Prefix,
		Format:  c.AutoWrite.Format,
		Enabled: c.AutoWrite.Enabled,
	}
	opts.Observer = obs
	opts.Writer = a.rec
	opts.Logger = logger
	a.ctl, err = session.New(opts)
	if err != nil {
		return a, err
	}
	if c.Connect {
		if _, err := a.ctl.Devices(); err != nil {
			logger.Println(err)
		}
		if err := a.ctl.OpenDevice(c.DeviceIndex); err != nil {
			// the server stays up so the device can be opened over HTTP later
			logger.Printf("connecting at startup: %v", err)
		}
	}
	return a, nil
}

// BuildMux binds the session, recorder, lock, and metrics to one router
func BuildMux(c config.Config, a app) chi.Router {
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	httper := scope.NewHTTPScope(a.ctl, c.PreviewFPS)
	imgrec.NewHTTPWrapper(a.rec).Inject(httper)

	// add a lock interface, then the lock middleware
	lock := locker.New()
	locker.Inject(httper, lock)
	supergraph["/"] = httper.RT().Endpoints()
	root.Group(func(r chi.Router) {
		r.Use(lock.Check)
		httper.RT().Bind(r)
	})

	root.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
