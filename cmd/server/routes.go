package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/embedcache/internal/config"
)

type dataHandler interface {
	RegisterRoutes(*http.ServeMux)
}

type adminRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, token string)
}

var errNilConfig = errors.New("config is required")

// reservedPrefixes are owned by the data and admin handlers.
var reservedPrefixes = []string{"/v1/", "/admin/", "/health/"}

// routeSet is everything the server exposes on one mux.
type routeSet struct {
	data       dataHandler
	admin      adminRegistrar
	adminToken string
	metrics    config.MetricsConfig
}

func (rs routeSet) validate() error {
	if !rs.metrics.Enabled {
		return nil
	}
	path := rs.metrics.Path
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("metrics path %q must start with /", path)
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return fmt.Errorf("metrics path %q collides with %s routes", path, prefix)
		}
	}
	return nil
}

func (rs routeSet) mux() (*http.ServeMux, error) {
	if err := rs.validate(); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	if rs.data != nil {
		rs.data.RegisterRoutes(mux)
	}
	if rs.admin != nil {
		rs.admin.RegisterRoutes(mux, rs.adminToken)
	}
	if rs.metrics.Enabled {
		mux.Handle("GET "+rs.metrics.Path, promhttp.Handler())
	}
	return mux, nil
}

// buildMux registers the public, admin and metrics routes described by cfg.
// cfg.Server.AdminToken must already be resolved to its secret value.
func buildMux(cfg *config.Config, handler dataHandler, admin adminRegistrar) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	return routeSet{
		data:       handler,
		admin:      admin,
		adminToken: cfg.Server.AdminToken,
		metrics:    cfg.Metrics,
	}.mux()
}
