package greendish

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/greendish/logger"
	"github.com/vitwit/greendish/metrics"
	"github.com/vitwit/greendish/wallet"
)

type Option func(*GreenDish)

func WithLogger(l logger.Logger) Option {
	return func(g *GreenDish) {
		g.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *GreenDish) {
		g.metrics = r
	}
}

// WithPrometheus records metrics on reg and exposes it through Gatherer.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(g *GreenDish) {
		g.promReg = reg
	}
}

// WithTimeout bounds each contract probe run.
func WithTimeout(t time.Duration) Option {
	return func(g *GreenDish) {
		g.timeout = t
	}
}

// WithHTTPClient is used for every RPC connection: the provider adapter,
// the eth_getCode fallback and the key wallet.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *GreenDish) {
		if hc != nil {
			g.httpClient = hc
		}
	}
}

// WithWallet uses w instead of building a key wallet from the config. A nil
// w models a missing wallet.
func WithWallet(w wallet.Wallet) Option {
	return func(g *GreenDish) {
		g.wallet = w
		g.walletSet = true
	}
}
