// Package api exposes a read-only HTTP status surface for a swarm
// node: liveness, the advertised round/stage pointer, the current
// leaderboard and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/swarmml/swarm/pkg/dht"
	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

const contentType = "application/json"

func MakeHandler(store dht.Store, reg *prometheus.Registry, logger *slog.Logger, version string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(loggingErrorEncoder(logger)),
	}

	mux.Get("/healthz", otelhttp.NewHandler(kithttp.NewServer(
		healthEndpoint(version),
		decodeEmptyReq,
		encodeResponse,
		opts...,
	), "health").ServeHTTP)

	mux.Get("/version", otelhttp.NewHandler(kithttp.NewServer(
		versionEndpoint(version),
		decodeEmptyReq,
		encodeResponse,
		opts...,
	), "version").ServeHTTP)

	mux.Get("/round", otelhttp.NewHandler(kithttp.NewServer(
		roundEndpoint(store),
		decodeEmptyReq,
		encodeResponse,
		opts...,
	), "round").ServeHTTP)

	mux.Get("/leaderboard", otelhttp.NewHandler(kithttp.NewServer(
		leaderboardEndpoint(store),
		decodeEmptyReq,
		encodeResponse,
		opts...,
	), "leaderboard").ServeHTTP)

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

func decodeEmptyReq(context.Context, *http.Request) (any, error) {
	return nil, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func loggingErrorEncoder(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		logger.WarnContext(ctx, "request failed", slog.Any("error", err))
		encodeError(ctx, err, w)
	}
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", contentType)
	switch {
	case errors.Is(err, pkgerrors.ErrEmptyKey):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, pkgerrors.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, pkgerrors.ErrStoreUnavailable):
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	if eerr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); eerr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
