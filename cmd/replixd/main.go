// Command replixd runs a small wandering entity simulation and replicates it
// to every connected client. WebSocket clients connect to /replicate; QUIC
// and WebTransport listeners are enabled when a certificate is configured.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QYUbit/replix/pkg/axlog"
	slogadapter "github.com/QYUbit/replix/pkg/axlog/slog_adapter"
	"github.com/QYUbit/replix/pkg/replication"
	"github.com/QYUbit/replix/pkg/transport"
	quicadapter "github.com/QYUbit/replix/pkg/transport/quic"
	websockets "github.com/QYUbit/replix/pkg/transport/websocket"
	wtadapter "github.com/QYUbit/replix/pkg/transport/webtransport"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	wt "github.com/quic-go/webtransport-go"
	"golang.org/x/sync/errgroup"
)

// quicMTU keeps a stream packet inside one QUIC datagram.
const quicMTU = 1200

type serverConfig struct {
	Addr             string  `env:"REPLIXD_ADDR" envDefault:":8080"`
	QUICAddr         string  `env:"REPLIXD_QUIC_ADDR"`
	WebTransportAddr string  `env:"REPLIXD_WEBTRANSPORT_ADDR"`
	CertFile         string  `env:"REPLIXD_CERT_FILE"`
	KeyFile          string  `env:"REPLIXD_KEY_FILE"`
	TickRate         int     `env:"REPLIXD_TICK_RATE" envDefault:"20"`
	Entities         int     `env:"REPLIXD_ENTITIES" envDefault:"256"`
	WorldSize        float64 `env:"REPLIXD_WORLD_SIZE" envDefault:"1000"`
	ViewRadius       float64 `env:"REPLIXD_VIEW_RADIUS" envDefault:"250"`
	Debug            bool    `env:"REPLIXD_DEBUG"`
}

// peer is what every transport adapter hands out.
type peer interface {
	transport.Peer
	Done() <-chan struct{}
}

type server struct {
	cfg serverConfig
	log axlog.Logger
	sim *sim
	rep *replication.Replicator
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "replixd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if cfg.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %d", cfg.TickRate)
	}
	repCfg, err := replication.LoadConfig()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slogadapter.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if (cfg.QUICAddr != "" || cfg.WebTransportAddr != "") && repCfg.MTU > quicMTU {
		log.Warn("mtu exceeds a quic datagram, lowering it", "mtu", repCfg.MTU, "limit", quicMTU)
		repCfg.MTU = quicMTU
		if err := repCfg.Validate(); err != nil {
			return err
		}
	}

	reg, err := newRegistry()
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := replication.NewMetrics(promReg)

	sim := newSim(cfg.WorldSize, cfg.ViewRadius)
	if err := sim.populate(cfg.Entities); err != nil {
		return err
	}

	rep, err := replication.New(repCfg, reg, sim.world, sim.interest,
		replication.WithLogger(log),
		replication.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	s := &server{cfg: cfg, log: log, sim: sim, rep: rep}

	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/replicate", websockets.NewHandler(ctx, func(p *websockets.Peer) { s.attach(ctx, p) }))
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info("serving websocket and metrics", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.QUICAddr != "" {
		if err := s.serveQUIC(ctx, g); err != nil {
			return err
		}
	}
	if cfg.WebTransportAddr != "" {
		s.serveWebTransport(ctx, g)
	}

	g.Go(func() error {
		return s.loop(ctx)
	})

	return g.Wait()
}

func (s *server) loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		changed, removed, err := s.sim.step()
		if err != nil {
			return err
		}
		if err := s.rep.Tick(ctx, changed, removed); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.sim.world.EndTick()
	}
}

// attach registers p as an observer until it disconnects.
func (s *server) attach(ctx context.Context, p peer) {
	o := s.rep.AddObserver(p, s.sim.visible()...)
	s.log.Info("peer connected", "observer", o.ID().String(), "remote", p.RemoteAddr().String())

	go func() {
		select {
		case <-p.Done():
		case <-ctx.Done():
		}
		s.rep.RemoveObserver(o.ID())
		s.sim.dropCamera(o.ID())
		if err := p.Close(); err != nil {
			s.log.Debug("close peer", "observer", o.ID().String(), "error", err)
		}
	}()
}

func (s *server) tlsConfig(protos ...string) (*tls.Config, error) {
	if s.cfg.CertFile == "" || s.cfg.KeyFile == "" {
		return nil, errors.New("quic and webtransport need REPLIXD_CERT_FILE and REPLIXD_KEY_FILE")
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: protos}, nil
}

func (s *server) serveQUIC(ctx context.Context, g *errgroup.Group) error {
	tlsCfg, err := s.tlsConfig("replix")
	if err != nil {
		return err
	}
	l, err := quicadapter.Listen(s.cfg.QUICAddr, tlsCfg, nil)
	if err != nil {
		return fmt.Errorf("listen quic: %w", err)
	}
	s.log.Info("serving quic", "addr", l.Addr().String())

	g.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})
	g.Go(func() error {
		for {
			p, err := l.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, quicadapter.ErrDatagramsDisabled) {
					s.log.Warn("rejecting quic peer", "error", err)
					continue
				}
				return err
			}
			s.attach(ctx, p)
		}
	})
	return nil
}

func (s *server) serveWebTransport(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	wts := &wt.Server{
		H3: http3.Server{
			Addr:    s.cfg.WebTransportAddr,
			Handler: mux,
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux.HandleFunc("/replicate", func(w http.ResponseWriter, r *http.Request) {
		p, err := wtadapter.Upgrade(ctx, wts, w, r)
		if err != nil {
			s.log.Warn("webtransport upgrade failed", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.attach(ctx, p)
	})

	g.Go(func() error {
		s.log.Info("serving webtransport", "addr", s.cfg.WebTransportAddr)
		err := wts.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		return wts.Close()
	})
}
