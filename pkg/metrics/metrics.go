// Package metrics exposes SDK counters to Prometheus. A nil *Metrics is a
// valid no-op so components never need to check whether metrics are wired.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

type Metrics struct {
	TokenRefresh       *prometheus.CounterVec
	RefreshWaiters     prometheus.Gauge
	DeviceRegistration *prometheus.CounterVec
	DeviceJWTIssued    prometheus.Counter
	ReaderOperations   *prometheus.CounterVec
}

// New creates the SDK collectors and registers them on reg (the default
// registerer when nil). Collectors already registered by an earlier SDK
// instance are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arise_token_refresh_total",
			Help: "Backend token refresh calls by result",
		}, []string{"result"}),
		RefreshWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arise_token_refresh_waiters",
			Help: "Callers currently waiting on the shared token refresh",
		}),
		DeviceRegistration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arise_device_registration_total",
			Help: "Background device registrations by result",
		}, []string{"result"}),
		DeviceJWTIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arise_device_jwt_issued_total",
			Help: "Device JWTs issued by the backend",
		}),
		ReaderOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arise_reader_operations_total",
			Help: "Tap to Pay reader operations by operation and result",
		}, []string{"op", "result"}),
	}

	var err error
	m.TokenRefresh = register(reg, m.TokenRefresh, &err)
	m.RefreshWaiters = register(reg, m.RefreshWaiters, &err)
	m.DeviceRegistration = register(reg, m.DeviceRegistration, &err)
	m.DeviceJWTIssued = register(reg, m.DeviceJWTIssued, &err)
	m.ReaderOperations = register(reg, m.ReaderOperations, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector when one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

// ObserveRefresh counts one backend refresh call.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.TokenRefresh.WithLabelValues(result(err)).Inc()
}

// AddRefreshWaiters adjusts the waiting-caller gauge.
func (m *Metrics) AddRefreshWaiters(delta float64) {
	if m == nil {
		return
	}
	m.RefreshWaiters.Add(delta)
}

// ObserveRegistration counts one background device registration.
func (m *Metrics) ObserveRegistration(err error) {
	if m == nil {
		return
	}
	m.DeviceRegistration.WithLabelValues(result(err)).Inc()
}

// IncDeviceJWTIssued counts one device JWT issued by the backend.
func (m *Metrics) IncDeviceJWTIssued() {
	if m == nil {
		return
	}
	m.DeviceJWTIssued.Inc()
}

// ObserveReaderOp counts one reader operation.
func (m *Metrics) ObserveReaderOp(op string, err error) {
	if m == nil {
		return
	}
	m.ReaderOperations.WithLabelValues(op, result(err)).Inc()
}
